// Package version reports the build version of the dtvplus binaries.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"
)

// Set at build time:
//
//	go build -ldflags="-X github.com/muurk/dtvplus/internal/version.Version=v0.3.0 \
//	                   -X github.com/muurk/dtvplus/internal/version.Commit=abc1234"
//
// Unset values are filled from the module's VCS stamp, then fall back to
// "dev" and "unknown".
var (
	Version = ""
	Commit  = ""
)

// Info is the resolved build information
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuiltAt   string `json:"built_at,omitempty"`
	GoVersion string `json:"go_version"`
}

var resolved = resolve(Version, Commit, readSettings())

// Get returns the build information
func Get() Info {
	return resolved
}

// Full returns the version string including commit
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", resolved.Version, resolved.Commit)
}

func readSettings() map[string]string {
	settings := make(map[string]string)
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return settings
	}
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		settings["module.version"] = info.Main.Version
	}
	return settings
}

// resolve merges ldflags values with VCS build settings
func resolve(version, commit string, settings map[string]string) Info {
	info := Info{
		Version:   version,
		Commit:    commit,
		GoVersion: runtime.Version(),
	}

	if t, err := time.Parse(time.RFC3339, settings["vcs.time"]); err == nil {
		info.BuiltAt = t.UTC().Format(time.RFC3339)
	}

	if info.Commit == "" {
		if rev := settings["vcs.revision"]; rev != "" {
			if len(rev) > 7 {
				rev = rev[:7]
			}
			if settings["vcs.modified"] == "true" {
				rev += "-dirty"
			}
			info.Commit = rev
		}
	}

	if info.Version == "" {
		switch {
		case settings["module.version"] != "":
			info.Version = settings["module.version"]
		case info.BuiltAt != "":
			t, _ := time.Parse(time.RFC3339, info.BuiltAt)
			info.Version = "dev-" + t.Format("20060102")
		default:
			info.Version = "dev"
		}
	}

	if info.Commit == "" {
		info.Commit = "unknown"
	}
	return info
}
