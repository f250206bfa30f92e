// Dtvplus-bridge exposes Kohler DTV+ shower controllers to home automation.
//
// It loads the paired devices from the registry, polls each controller they
// reference, and serves their state and commands over an HTTP API, a
// websocket stream and, when a broker is configured, MQTT. The bridge
// advertises itself over mDNS so clients can find it.
//
// Usage:
//
//	dtvplus-bridge serve [flags]
//
// Settings come from an optional YAML file (--config), DTVPLUS_* environment
// variables and flags, in increasing precedence. Send SIGHUP to reload the
// device registry without restarting.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/dtvplus/internal/config"
	"github.com/muurk/dtvplus/internal/devices"
	"github.com/muurk/dtvplus/internal/discovery"
	"github.com/muurk/dtvplus/internal/dtvclient"
	"github.com/muurk/dtvplus/internal/hub"
	"github.com/muurk/dtvplus/internal/logging"
	"github.com/muurk/dtvplus/internal/metrics"
	"github.com/muurk/dtvplus/internal/mqttbridge"
	"github.com/muurk/dtvplus/internal/server"
	"github.com/muurk/dtvplus/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dtvplus-bridge",
	Short: "DTV+ shower controller bridge",
	Long: `A bridge between Kohler DTV+ shower controllers and home automation.

The bridge polls every controller referenced by the paired devices in the
registry and exposes each device's capabilities over HTTP, a websocket stream
and MQTT.

Pair devices first with 'dtvplus-cfg pair'.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

var settingsPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge",
	Example: `  # Run with defaults (API on :8086, registry in the user config dir)
  dtvplus-bridge serve

  # Publish to an MQTT broker
  dtvplus-bridge serve --mqtt-broker tcp://broker.local:1883

  # Use a settings file and verbose logging
  dtvplus-bridge serve --config /etc/dtvplus/bridge.yaml --log-level debug`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&settingsPath, "config", "", "Path to a bridge settings YAML file")
	f.String("listen", ":8086", "HTTP API listen address")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("registry", "", "Path to the device registry (default: user config dir)")
	f.Duration("status-interval", hub.DefaultStatusInterval, "Status poll interval")
	f.Duration("config-interval", hub.DefaultConfigInterval, "Configuration poll interval")
	f.Duration("extra-poll-delay", hub.DefaultExtraPollDelay, "Delay of the status poll that follows a command")
	f.String("mqtt-broker", "", "MQTT broker URL (empty disables MQTT)")
	f.String("mqtt-prefix", "dtvplus", "MQTT topic prefix")
	f.Bool("mdns", true, "Advertise the bridge over mDNS")
}

func runServe(cmd *cobra.Command, args []string) error {
	settings, err := config.LoadSettings(settingsPath, cmd.Flags())
	if err != nil {
		return err
	}

	if err := logging.Initialize(settings.LogLevel); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Sync()

	reg, err := settings.OpenRegistry()
	if err != nil {
		return fmt.Errorf("failed to load device registry: %w", err)
	}
	registryPath, _ := reg.Path()

	logging.Info("Starting DTV+ bridge",
		zap.String("version", version.Full()),
		zap.String("registry", registryPath),
		zap.Duration("status_interval", settings.StatusInterval),
		zap.Duration("config_interval", settings.ConfigInterval),
	)

	m := metrics.New()
	h := hub.New(hub.Options{
		StatusInterval: settings.StatusInterval,
		ConfigInterval: settings.ConfigInterval,
		ExtraPollDelay: settings.ExtraPollDelay,
		Observer:       m,
		NewController: func(address string) hub.Controller {
			client := dtvclient.NewClient(address)
			client.Observer = m
			return client
		},
	})
	defer h.Close()

	mgr := devices.NewManager(h)
	defer mgr.Close()

	loaded := mgr.LoadRegistry(reg)
	if loaded == 0 {
		logging.Warn("No devices in registry; pair some with 'dtvplus-cfg pair'",
			zap.String("registry", registryPath),
		)
	} else {
		logging.Info("Devices loaded", zap.Int("count", loaded))
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if settings.MQTT.Broker != "" {
		client, err := mqttbridge.Connect(settings.MQTT)
		if err != nil {
			return err
		}
		defer client.Close()

		if err := mqttbridge.New(client, settings.MQTT.TopicPrefix, mgr).Start(ctx); err != nil {
			return err
		}
	}

	var advertiser *discovery.Advertiser
	if settings.MDNS.Enabled {
		advertiser = advertise(settings, loaded)
		if advertiser != nil {
			defer advertiser.Shutdown()
		}
	}

	go reloadOnHangup(ctx, settings, mgr, advertiser)

	srv := server.New(&server.Config{Listen: settings.Listen}, h, mgr, m)
	return srv.Start(ctx)
}

// advertise registers the bridge over mDNS. Failures are logged and the
// bridge runs without an advertisement.
func advertise(settings *config.Settings, count int) *discovery.Advertiser {
	port, err := discovery.ListenPort(settings.Listen)
	if err != nil {
		logging.Warn("mDNS advertisement disabled", zap.Error(err))
		return nil
	}
	ad, err := discovery.Advertise(discovery.Advertisement{
		Instance: settings.MDNS.Instance,
		Port:     port,
		Version:  version.Version,
		Devices:  count,
	})
	if err != nil {
		logging.Warn("mDNS advertisement disabled", zap.Error(err))
		return nil
	}
	return ad
}

// reloadOnHangup re-reads the registry on SIGHUP and syncs the live devices
func reloadOnHangup(ctx context.Context, settings *config.Settings, mgr *devices.Manager, advertiser *discovery.Advertiser) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}

		reg, err := reopenRegistry(settings)
		if err != nil {
			logging.Error("Registry reload failed", zap.Error(err))
			continue
		}
		res := mgr.Sync(reg)
		logging.Info("Registry reloaded",
			zap.Int("added", res.Added),
			zap.Int("moved", res.Moved),
			zap.Int("removed", res.Removed),
		)
		if advertiser != nil {
			advertiser.SetDevices(len(mgr.List()))
		}
	}
}

func reopenRegistry(settings *config.Settings) (*config.Registry, error) {
	if settings.RegistryPath != "" {
		return config.LoadRegistryFile(settings.RegistryPath)
	}
	return config.ReloadRegistry()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("dtvplus-bridge %s\n", version.Full())
	},
}
