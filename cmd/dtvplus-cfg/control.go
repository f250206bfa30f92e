package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/muurk/dtvplus/internal/composer"
	"github.com/muurk/dtvplus/internal/dtvclient"
)

// Control command flags
var (
	showerValve   int
	showerOutlets string
	showerTemp    float64

	steamTemp    float64
	steamMinutes int

	musicVolume int
	lightLevel  int
)

func init() {
	rootCmd.AddCommand(showerCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(presetCmd)
	rootCmd.AddCommand(steamCmd)
	rootCmd.AddCommand(musicCmd)
	rootCmd.AddCommand(lightCmd)

	showerCmd.Flags().IntVar(&showerValve, "valve", 1, "Valve to drive (1 or 2)")
	showerCmd.Flags().StringVar(&showerOutlets, "outlets", "", `Outlets to open, e.g. "1,3" or "13"; empty or "0" turns the valve off`)
	showerCmd.Flags().Float64Var(&showerTemp, "temp", 38, "Target temperature in Celsius")

	steamCmd.Flags().Float64Var(&steamTemp, "temp", 43, "Steam temperature in Celsius (with 'on')")
	steamCmd.Flags().IntVar(&steamMinutes, "minutes", 10, "Steam session length in minutes (with 'on')")

	musicCmd.Flags().IntVar(&musicVolume, "volume", 50, "Volume percentage (with 'on')")
	lightCmd.Flags().IntVar(&lightLevel, "level", 100, "Brightness percentage (with 'on')")
}

var showerCmd = &cobra.Command{
	Use:   "shower",
	Short: "Start, change or stop one valve",
	Long: `Drive one valve while leaving the other valve as it is.

The controller only accepts commands describing both valves, so the current
status is read first and the other valve's running outlets and setpoint are
sent along unchanged. When the change leaves no outlet open on either valve,
the stop command is sent instead.`,
	Example: `  # Open outlets 1 and 3 of valve 1 at 39°C
  dtvplus-cfg shower --outlets 1,3 --temp 39

  # Turn valve 2 off, valve 1 keeps running
  dtvplus-cfg shower --valve 2 --outlets 0`,
	RunE: runShower,
}

func runShower(cmd *cobra.Command, args []string) error {
	valve := dtvclient.Valve(showerValve)
	if !valve.Valid() {
		return fmt.Errorf("--valve must be 1 or 2, got %d", showerValve)
	}
	outlets, err := dtvclient.ParseOutletSelector(strings.ReplaceAll(showerOutlets, ",", ""))
	if err != nil {
		return fmt.Errorf("invalid --outlets: %w", err)
	}

	address, client, err := connect()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	info, err := client.ReadSystemInfo(ctx)
	if err != nil {
		return reportFailure("Status Read Failed", err)
	}

	values, err := client.ReadValues(ctx)
	if err != nil {
		return reportFailure("Configuration Read Failed", err)
	}
	if err := checkOutletRange(valve, outlets, values); err != nil {
		return err
	}

	plan := composer.PlanValve(valve, outlets, info.FromCelsius(showerTemp), info)
	if plan.Stop {
		if _, err := client.StopShower(ctx); err != nil {
			return reportFailure("Stop Failed", err)
		}
	} else {
		if _, err := client.StartShower(ctx, plan.Command); err != nil {
			return reportFailure("Shower Command Failed", err)
		}
	}

	return reportSuccess("Shower Updated", map[string]string{
		"Controller": address,
		"Valve":      valve.String(),
		"Outlets":    outlets.String(),
		"Sent":       plan.String(),
	})
}

// checkOutletRange rejects outlets beyond the valve's configured port count
func checkOutletRange(valve dtvclient.Valve, outlets dtvclient.OutletSelector, values dtvclient.Values) error {
	ports := values.PortsAvailable(valve, dtvclient.MaxOutlets)
	if !outlets.Within(ports) {
		return dtvclient.NewValidationError(fmt.Sprintf("%s has %d outlet ports, cannot open outlets %s", valve, ports, outlets))
	}
	return nil
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop both valves",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		address, client, err := connect()
		if err != nil {
			return err
		}
		if _, err := client.StopShower(cmd.Context()); err != nil {
			return reportFailure("Stop Failed", err)
		}
		return reportSuccess("Shower Stopped", map[string]string{"Controller": address})
	},
}

var presetCmd = &cobra.Command{
	Use:   "preset <1-6>",
	Short: "Start a stored user preset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		preset, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("preset must be a number, got %q", args[0])
		}
		if err := dtvclient.ValidatePreset(preset); err != nil {
			return err
		}

		address, client, err := connect()
		if err != nil {
			return err
		}
		if _, err := client.StartPreset(cmd.Context(), preset); err != nil {
			return reportFailure("Preset Failed", err)
		}
		return reportSuccess("Preset Started", map[string]string{
			"Controller": address,
			"Preset":     args[0],
		})
	},
}

// parseSwitch accepts "on" or "off"
func parseSwitch(arg string) (bool, error) {
	switch arg {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", arg)
	}
}

var steamCmd = &cobra.Command{
	Use:   "steam <on|off>",
	Short: "Start or stop the steam generator",
	Example: `  dtvplus-cfg steam on --temp 45 --minutes 15
  dtvplus-cfg steam off`,
	Args: cobra.ExactArgs(1),
	RunE: runSteam,
}

func runSteam(cmd *cobra.Command, args []string) error {
	on, err := parseSwitch(args[0])
	if err != nil {
		return err
	}
	address, client, err := connect()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if !on {
		if _, err := client.SteamOff(ctx); err != nil {
			return reportFailure("Steam Off Failed", err)
		}
		return reportSuccess("Steam Stopped", map[string]string{"Controller": address})
	}

	// Without a status read the unit is unknown and Celsius is assumed.
	info, _ := client.ReadSystemInfo(ctx)
	native := info.FromCelsius(steamTemp)
	if err := dtvclient.ValidateSteam(native, steamMinutes); err != nil {
		return err
	}
	if _, err := client.SteamOn(ctx, native, steamMinutes); err != nil {
		return reportFailure("Steam On Failed", err)
	}
	return reportSuccess("Steam Started", map[string]string{
		"Controller":  address,
		"Temperature": fmt.Sprintf("%g°C", steamTemp),
		"Minutes":     strconv.Itoa(steamMinutes),
	})
}

var musicCmd = &cobra.Command{
	Use:   "music <on|off>",
	Short: "Switch the amplifier on or off",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		on, err := parseSwitch(args[0])
		if err != nil {
			return err
		}
		if on {
			if err := dtvclient.ValidateVolume(musicVolume); err != nil {
				return err
			}
		}
		address, client, err := connect()
		if err != nil {
			return err
		}

		if !on {
			if _, err := client.MusicOff(cmd.Context()); err != nil {
				return reportFailure("Music Off Failed", err)
			}
			return reportSuccess("Music Stopped", map[string]string{"Controller": address})
		}
		if _, err := client.MusicOn(cmd.Context(), musicVolume); err != nil {
			return reportFailure("Music On Failed", err)
		}
		return reportSuccess("Music Started", map[string]string{
			"Controller": address,
			"Volume":     strconv.Itoa(musicVolume) + "%",
		})
	},
}

var lightCmd = &cobra.Command{
	Use:   "light <zone> <on|off>",
	Short: "Switch a light zone on or off",
	Example: `  dtvplus-cfg light 1 on --level 60
  dtvplus-cfg light 2 off`,
	Args: cobra.ExactArgs(2),
	RunE: runLight,
}

func runLight(cmd *cobra.Command, args []string) error {
	zone, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("zone must be a number, got %q", args[0])
	}
	if err := dtvclient.ValidateLightZone(zone); err != nil {
		return err
	}
	on, err := parseSwitch(args[1])
	if err != nil {
		return err
	}
	if on {
		if err := dtvclient.ValidateLevel(lightLevel); err != nil {
			return err
		}
	}

	address, client, err := connect()
	if err != nil {
		return err
	}

	details := map[string]string{"Controller": address, "Zone": args[0]}
	if !on || lightLevel == 0 {
		if _, err := client.LightOff(cmd.Context(), zone); err != nil {
			return reportFailure("Light Off Failed", err)
		}
		return reportSuccess("Light Off", details)
	}
	if _, err := client.LightOn(cmd.Context(), zone, lightLevel); err != nil {
		return reportFailure("Light On Failed", err)
	}
	details["Level"] = strconv.Itoa(lightLevel) + "%"
	return reportSuccess("Light On", details)
}
