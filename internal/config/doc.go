// Package config provides the settings stores for the DTV+ bridge.
//
// Two files are managed here:
//
//   - The device registry (devices.yaml): one entry per paired logical device,
//     holding its kind, controller address and kind-specific settings such as
//     valve number, outlet or light zone. The bridge builds its devices from it.
//   - The bridge settings (bridge.yaml, optional): listen address, poll
//     intervals, MQTT and mDNS settings. Read with viper, so every key can be
//     overridden by a DTVPLUS_* environment variable or a command-line flag.
//
// # Registry File Location
//
// The registry is stored in platform-appropriate locations:
//   - Linux: $XDG_CONFIG_HOME/dtvplus/devices.yaml or $HOME/.config/dtvplus/devices.yaml
//   - macOS: $HOME/.config/dtvplus/devices.yaml
//   - Windows: %LOCALAPPDATA%\dtvplus\devices.yaml
//
// # Usage Example
//
//	registry, err := config.LoadRegistry()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	err = registry.AddDevice("192-168-1-40-valve1", &config.Device{
//	    Name:    "Main Shower",
//	    Kind:    config.KindValve,
//	    Address: "192.168.1.40",
//	    Valve:   1,
//	    Ports:   3,
//	})
//
//	// Save changes atomically
//	if err := registry.Save(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Thread Safety
//
// The global registry uses sync.Once for safe initialization across goroutines.
// File operations are protected by a mutex to ensure atomic writes. A Registry
// value itself is not safe for concurrent mutation.
package config
