package dtvclient

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// FormatSnapshot renders a snapshot as one "key: value" line per field,
// sorted by key, with values in their JSON form.
func FormatSnapshot(snapshot map[string]any) string {
	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		encoded, err := json.Marshal(snapshot[k])
		if err != nil {
			encoded = []byte(fmt.Sprintf("%v", snapshot[k]))
		}
		b.WriteString(fmt.Sprintf("  %s: %s\n", k, encoded))
	}
	return b.String()
}

// FormatDump renders both snapshots the way the dump command prints them.
// A failed read is shown in place of its section.
func FormatDump(info SystemInfo, infoErr error, values Values, valuesErr error) string {
	var b strings.Builder

	b.WriteString("=== " + PathSystemInfo + " ===\n")
	if infoErr != nil {
		b.WriteString(fmt.Sprintf("  ERROR: %s\n", ShortErrorMessage(infoErr)))
	} else {
		b.WriteString(FormatSnapshot(info))
	}

	b.WriteString("\n=== " + PathValues + " ===\n")
	if valuesErr != nil {
		b.WriteString(fmt.Sprintf("  ERROR: %s\n", ShortErrorMessage(valuesErr)))
	} else {
		b.WriteString(FormatSnapshot(values))
	}

	return b.String()
}

// Summary returns a one-line summary of a controller's state
func Summary(address string, info SystemInfo, values Values) string {
	unit := "C"
	if info.Fahrenheit() {
		unit = "F"
	}

	state := "idle"
	if info.AnyRunning() {
		var running []string
		for _, v := range []Valve{Valve1, Valve2} {
			if info.Running(v) {
				running = append(running, fmt.Sprintf("%s:%s", v, info.OpenOutlets(v)))
			}
		}
		state = "running " + strings.Join(running, " ")
	}

	mac := values.MAC()
	if mac == "" {
		mac = "unknown MAC"
	}
	return fmt.Sprintf("DTV+ %s (%s, °%s) %s", address, mac, unit, state)
}
