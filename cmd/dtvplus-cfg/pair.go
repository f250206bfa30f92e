package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/muurk/dtvplus/internal/config"
	"github.com/muurk/dtvplus/internal/hub"
	"github.com/muurk/dtvplus/internal/pairing"
	"github.com/muurk/dtvplus/internal/ui"
)

// Pairing command flags
var (
	pairAdd     bool
	pairReplace bool
	pairOutlets bool
	pairYes     bool
)

func init() {
	rootCmd.AddCommand(pairCmd)
	rootCmd.AddCommand(devicesCmd)
	devicesCmd.AddCommand(devicesRemoveCmd)
	devicesCmd.AddCommand(devicesSetAddressCmd)
	devicesCmd.AddCommand(devicesDefaultCmd)

	pairCmd.Flags().BoolVar(&pairAdd, "add", false, "Write the offered devices to the registry")
	pairCmd.Flags().BoolVar(&pairReplace, "replace", false, "Overwrite devices already in the registry (implies --add)")
	pairCmd.Flags().BoolVar(&pairOutlets, "outlets", false, "Offer one outlet zone per port of every paired controller")
	pairCmd.Flags().BoolVarP(&pairYes, "yes", "y", false, "Do not ask before replacing devices")
}

var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "List or add the devices a controller offers",
	Long: `Read a controller and list the logical devices it offers: the system
controller, each installed valve, the amplifier, the steamer when installed
and the light zones when a lighting module is connected.

With --outlets, every system controller already in the registry is read and
one outlet zone is offered per outlet port of each installed valve.

Nothing is written unless --add or --replace is given.`,
	Example: `  # See what a controller offers
  dtvplus-cfg pair -a 192.168.1.40

  # Pair it
  dtvplus-cfg pair -a 192.168.1.40 --add

  # Then add per-outlet zones
  dtvplus-cfg pair --outlets --add`,
	Args: cobra.NoArgs,
	RunE: runPair,
}

func runPair(cmd *cobra.Command, args []string) error {
	reg, err := openRegistry()
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	var (
		candidates []pairing.Candidate
		result     *pairing.Result
	)
	if pairOutlets {
		candidates, err = pairing.OutletCandidates(cmd.Context(), registryControllers(reg), func(address string) pairing.Reader {
			return newClient(address)
		})
		if err != nil {
			return reportFailure("Outlet Discovery Failed", err)
		}
	} else {
		address, client, err := connect()
		if err != nil {
			return err
		}
		result, err = pairing.Discover(cmd.Context(), address, client)
		if err != nil {
			return reportFailure("Pairing Failed", err)
		}
		candidates = result.Candidates
	}

	if !pairAdd && !pairReplace {
		if outputFormat == "json" {
			if result != nil {
				return printJSON(result)
			}
			return printJSON(candidates)
		}
		source := "paired controllers"
		if result != nil {
			source = result.Address
		}
		printCandidates(reg, source, candidates)
		return nil
	}

	if pairReplace && !pairYes {
		var existing []string
		for _, c := range candidates {
			if reg.GetDevice(c.ID) != nil {
				existing = append(existing, c.ID)
			}
		}
		if len(existing) > 0 && !ui.Confirm(os.Stdin, os.Stdout, "Replace paired devices?", existing, "yes") {
			fmt.Println("Aborted, registry unchanged.")
			return nil
		}
	}

	added, err := pairing.Apply(reg, candidates, pairReplace)
	if err != nil {
		return reportFailure("Registry Update Failed", err)
	}
	if result != nil && reg.Preferences != nil && reg.Preferences.DefaultAddress == "" {
		reg.Preferences.DefaultAddress = result.Address
	}
	if err := reg.Save(); err != nil {
		return reportFailure("Registry Save Failed", err)
	}

	path, _ := reg.Path()
	return reportSuccess("Devices Paired", map[string]string{
		"Written":  strconv.Itoa(len(added)),
		"Skipped":  strconv.Itoa(len(candidates) - len(added)),
		"Registry": path,
		"Next":     "send SIGHUP to a running dtvplus-bridge to pick up the change",
	})
}

// registryControllers lists the paired system controllers
func registryControllers(reg *config.Registry) []hub.KnownController {
	var known []hub.KnownController
	seen := make(map[string]bool)
	for _, id := range reg.DeviceIDs() {
		d := reg.GetDevice(id)
		if d.Kind != config.KindController || seen[d.Address] {
			continue
		}
		seen[d.Address] = true
		known = append(known, hub.KnownController{Address: d.Address, Name: d.Name})
	}
	return known
}

func printCandidates(reg *config.Registry, source string, candidates []pairing.Candidate) {
	p := ui.NewPrinter(os.Stdout)
	p.PrintHeader("Pairing", "dtvplus-cfg pair", map[string]string{
		"Source":  source,
		"Offered": strconv.Itoa(len(candidates)),
	})
	p.Newline()

	for _, c := range candidates {
		marker := ui.BulletSymbol
		if reg.GetDevice(c.ID) != nil {
			marker = ui.MarkerOn
		}
		fmt.Printf("%s %-12s %s\n", marker, c.Device.Kind, c.Device.Name)
		fmt.Printf("    ID: %s\n", c.ID)
		for _, o := range c.Outlets {
			massage := ""
			if o.Massage {
				massage = " (massage)"
			}
			fmt.Printf("    Outlet %d: %s%s\n", o.Number, o.TypeName, massage)
		}
	}
	fmt.Printf("\n%s already paired. Use --add to pair the rest, --replace to overwrite.\n", ui.MarkerOn)
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List paired devices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry()
		if err != nil {
			return fmt.Errorf("failed to load registry: %w", err)
		}
		if outputFormat == "json" {
			return printJSON(reg.Devices)
		}

		ids := reg.DeviceIDs()
		if len(ids) == 0 {
			fmt.Println("No devices paired. Use 'dtvplus-cfg pair --add' to pair a controller.")
			return nil
		}
		for _, id := range ids {
			d := reg.GetDevice(id)
			fmt.Printf("%-40s %-11s %-22s %s\n", id, d.Kind, d.Address, d.Name)
		}
		if reg.Preferences != nil && reg.Preferences.DefaultAddress != "" {
			fmt.Printf("\nDefault controller: %s\n", reg.Preferences.DefaultAddress)
		}
		return nil
	},
}

var devicesRemoveCmd = &cobra.Command{
	Use:     "remove <id>...",
	Aliases: []string{"rm"},
	Short:   "Remove devices from the registry",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry()
		if err != nil {
			return fmt.Errorf("failed to load registry: %w", err)
		}

		var missing []string
		for _, id := range args {
			if !reg.RemoveDevice(id) {
				missing = append(missing, id)
			}
		}
		if len(missing) == len(args) {
			return fmt.Errorf("no such device: %s", strings.Join(missing, ", "))
		}
		if err := reg.Save(); err != nil {
			return reportFailure("Registry Save Failed", err)
		}

		details := map[string]string{"Removed": strconv.Itoa(len(args) - len(missing))}
		if len(missing) > 0 {
			details["Not found"] = strings.Join(missing, ", ")
		}
		return reportSuccess("Devices Removed", details)
	},
}

var devicesSetAddressCmd = &cobra.Command{
	Use:   "set-address <id|old-address> <new-address>",
	Short: "Point a device, or every device of a controller, at a new address",
	Long: `Change the controller address of one device, or of every device at an
address when the first argument is an address rather than a device ID. A
running bridge moves the devices on SIGHUP without losing their state.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry()
		if err != nil {
			return fmt.Errorf("failed to load registry: %w", err)
		}

		ids := []string{args[0]}
		if reg.GetDevice(args[0]) == nil {
			ids = reg.DevicesAt(args[0])
			if len(ids) == 0 {
				return fmt.Errorf("no device or controller address %q in the registry", args[0])
			}
		}
		for _, id := range ids {
			if err := reg.SetAddress(id, args[1]); err != nil {
				return err
			}
		}
		if reg.Preferences != nil && reg.Preferences.DefaultAddress == args[0] {
			reg.Preferences.DefaultAddress = args[1]
		}
		if err := reg.Save(); err != nil {
			return reportFailure("Registry Save Failed", err)
		}
		return reportSuccess("Address Updated", map[string]string{
			"Devices": strings.Join(ids, ", "),
			"Address": args[1],
		})
	},
}

var devicesDefaultCmd = &cobra.Command{
	Use:   "default <address>",
	Short: "Set the controller used when --address is omitted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry()
		if err != nil {
			return fmt.Errorf("failed to load registry: %w", err)
		}
		if reg.Preferences == nil {
			reg.Preferences = &config.Preferences{}
		}
		reg.Preferences.DefaultAddress = args[0]
		if err := reg.Save(); err != nil {
			return reportFailure("Registry Save Failed", err)
		}
		return reportSuccess("Default Controller Set", map[string]string{"Address": args[0]})
	},
}
