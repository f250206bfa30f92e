// Dtvplus-cfg is a command-line utility for Kohler DTV+ shower controllers.
//
// It reads and drives a controller directly over the local network: shower
// valves, presets, the steamer, the amplifier and the light zones. It also
// pairs controllers into the device registry used by dtvplus-bridge and
// watches a controller live in a terminal view.
//
// Usage:
//
//	dtvplus-cfg [command] [flags]
//
// See 'dtvplus-cfg --help' for available commands.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/dtvplus/internal/config"
	"github.com/muurk/dtvplus/internal/dtvclient"
	"github.com/muurk/dtvplus/internal/logging"
	"github.com/muurk/dtvplus/internal/ui"
	"github.com/muurk/dtvplus/internal/version"
)

// Global flags
var (
	controllerAddress string
	registryPath      string
	outputFormat      string
	requestTimeout    time.Duration
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		logging.Sync()
		os.Exit(1)
	}
	logging.Sync()
}

var rootCmd = &cobra.Command{
	Use:   "dtvplus-cfg",
	Short: "DTV+ Shower Controller Utility",
	Long: `A command-line utility for Kohler DTV+ shower controllers.

Reads controller status, starts and stops showers, runs presets, drives the
steamer, amplifier and lights, and pairs controllers into the device registry
served by dtvplus-bridge.

The controller address comes from --address, the DTVPLUS_CONTROLLER
environment variable, the registry's default address, or the first paired
system controller, in that order.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.InitializeFromEnv(); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		switch outputFormat {
		case "text", "json":
			return nil
		default:
			return fmt.Errorf("unknown output format %q (use text or json)", outputFormat)
		}
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVarP(&controllerAddress, "address", "a", "", "Controller address (host or host:port)")
	rootCmd.PersistentFlags().StringVar(&registryPath, "registry", "", "Device registry file (default: ~/.config/dtvplus/devices.yaml)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "text", "Output format (text, json)")
	rootCmd.PersistentFlags().DurationVar(&requestTimeout, "timeout", 0, "Override the per-request deadline (e.g. 5s)")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if outputFormat == "json" {
			_ = printJSON(version.Get())
			return
		}
		fmt.Println("dtvplus-cfg " + version.Full())
	},
}

// openRegistry loads the registry named by --registry, or the default one
func openRegistry() (*config.Registry, error) {
	if registryPath != "" {
		return config.LoadRegistryFile(registryPath)
	}
	return config.LoadRegistry()
}

// resolveAddress picks the controller to talk to
func resolveAddress() (string, error) {
	if controllerAddress != "" {
		return controllerAddress, nil
	}
	if env := os.Getenv("DTVPLUS_CONTROLLER"); env != "" {
		return env, nil
	}

	reg, err := openRegistry()
	if err != nil {
		return "", fmt.Errorf("no --address given and the registry could not be read: %w", err)
	}
	if reg.Preferences != nil && reg.Preferences.DefaultAddress != "" {
		return reg.Preferences.DefaultAddress, nil
	}
	for _, id := range reg.DeviceIDs() {
		if d := reg.GetDevice(id); d.Kind == config.KindController {
			return d.Address, nil
		}
	}
	return "", fmt.Errorf("no controller address: pass --address, set DTVPLUS_CONTROLLER or pair a controller first")
}

func newClient(address string) *dtvclient.Client {
	client := dtvclient.NewClient(address)
	if requestTimeout > 0 {
		client.InfoTimeout = requestTimeout
		client.CommandTimeout = requestTimeout
		client.AccessoryTimeout = requestTimeout
	}
	return client
}

// connect resolves the address and builds a client for it
func connect() (string, *dtvclient.Client, error) {
	address, err := resolveAddress()
	if err != nil {
		return "", nil, err
	}
	return address, newClient(address), nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// reportSuccess prints a command outcome as a box or as JSON
func reportSuccess(title string, details map[string]string) error {
	if outputFormat == "json" {
		return printJSON(map[string]any{"ok": true, "title": title, "details": details})
	}
	ui.NewPrinter(os.Stdout).PrintSuccess(title, details)
	return nil
}

// reportFailure prints err with troubleshooting hints and returns it so the
// process exits non-zero.
func reportFailure(title string, err error) error {
	if outputFormat == "json" {
		_ = printJSON(map[string]any{
			"ok":    false,
			"title": title,
			"error": err.Error(),
			"hints": dtvclient.TroubleshootingHint(err),
		})
		return err
	}
	ui.NewPrinter(os.Stderr).PrintError(title, err, dtvclient.TroubleshootingHint(err))
	return err
}
