package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/dtvplus/internal/discovery"
	"github.com/muurk/dtvplus/internal/dtvclient"
	"github.com/muurk/dtvplus/internal/ui"
)

// Inspection command flags
var (
	watchInterval time.Duration
	bridgeTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(bridgesCmd)

	watchCmd.Flags().DurationVar(&watchInterval, "interval", 5*time.Second, "Refresh interval")
	bridgesCmd.Flags().DurationVar(&bridgeTimeout, "scan-timeout", discovery.DefaultScanTimeout, "How long to listen for bridges")
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print both raw controller snapshots",
	Long: `Read the status (system_info) and configuration (values) snapshots and
print every key. A failed read is reported in place of its section.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, client, err := connect()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		info, infoErr := client.ReadSystemInfo(ctx)
		values, valuesErr := client.ReadValues(ctx)

		if outputFormat == "json" {
			if err := printJSON(map[string]any{"system_info": info, "values": values}); err != nil {
				return err
			}
		} else {
			fmt.Print(dtvclient.FormatDump(info, infoErr, values, valuesErr))
		}

		if infoErr != nil && valuesErr != nil {
			return errors.Join(infoErr, valuesErr)
		}
		return nil
	},
}

// fetchBoth reads both snapshots; only a failed status read is an error
func fetchBoth(client *dtvclient.Client) ui.Fetcher {
	return func(ctx context.Context) (dtvclient.SystemInfo, dtvclient.Values, error) {
		info, err := client.ReadSystemInfo(ctx)
		if err != nil {
			return nil, nil, err
		}
		values, _ := client.ReadValues(ctx)
		return info, values, nil
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show valves, steam, music and lights",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		address, client, err := connect()
		if err != nil {
			return err
		}

		info, values, err := fetchBoth(client)(cmd.Context())
		if err != nil {
			return reportFailure("Status Read Failed", err)
		}

		st := ui.BuildStatus(address, info, values)
		if outputFormat == "json" {
			return printJSON(st)
		}
		fmt.Println(ui.RenderStatus(st, ui.ClampWidth(ui.GetTerminalWidth())))
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a controller live",
	Long: `Show the controller status in a full-screen view that refreshes on an
interval. Press r to refresh, s to stop the shower and q to quit.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if watchInterval <= 0 {
			return fmt.Errorf("--interval must be positive")
		}
		address, client, err := connect()
		if err != nil {
			return err
		}

		stop := func(ctx context.Context) error {
			_, err := client.StopShower(ctx)
			return err
		}
		return ui.RunWatch(ui.NewWatchModel(address, watchInterval, fetchBoth(client), stop))
	},
}

var bridgesCmd = &cobra.Command{
	Use:   "bridges",
	Short: "Find dtvplus-bridge instances on the network",
	Long: `Browse mDNS for bridges advertising ` + discovery.ServiceType + ` and print
their API addresses.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		scanner := discovery.NewScanner()
		scanner.Timeout = bridgeTimeout

		if outputFormat != "json" {
			fmt.Fprintf(os.Stderr, "Browsing for bridges (timeout: %s)...\n", bridgeTimeout)
		}
		bridges, err := scanner.Scan(cmd.Context())
		if err != nil {
			return fmt.Errorf("browse failed: %w", err)
		}

		if outputFormat == "json" {
			return printJSON(bridges)
		}
		if len(bridges) == 0 {
			fmt.Println("No bridges found.")
			fmt.Println("\nTroubleshooting:")
			fmt.Println("  - Check that dtvplus-bridge is running with mDNS enabled")
			fmt.Println("  - Multicast may be blocked between network segments")
			fmt.Println("  - Try a longer --scan-timeout")
			return nil
		}

		fmt.Printf("Found %d bridge(s):\n\n", len(bridges))
		for i, b := range bridges {
			fmt.Printf("%d. %s\n", i+1, b.Instance)
			fmt.Printf("   API:     %s%s\n", b.BaseURL(), b.GetMetadata("api"))
			if n := b.GetMetadata("devices"); n != "" {
				fmt.Printf("   Devices: %s\n", n)
			}
			if v := b.GetMetadata("version"); v != "" {
				fmt.Printf("   Version: %s\n", v)
			}
			fmt.Println()
		}
		return nil
	},
}
