package config

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind identifies the type of a paired logical device
type Kind string

const (
	KindValve      Kind = "valve"
	KindOutletZone Kind = "outlet"
	KindAmplifier  Kind = "amplifier"
	KindSteamer    Kind = "steamer"
	KindLight      Kind = "light"
	KindController Kind = "controller"
)

// Kinds lists every device kind in display order
var Kinds = []Kind{KindController, KindValve, KindOutletZone, KindAmplifier, KindSteamer, KindLight}

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Registry represents the device registry file.
// It is the settings store for every paired logical device.
type Registry struct {
	Version     int                `yaml:"version"`
	Devices     map[string]*Device `yaml:"devices,omitempty"` // Keyed by device ID
	Preferences *Preferences       `yaml:"preferences,omitempty"`

	path string
}

// Device is the persisted settings of one paired logical device.
// Which fields matter depends on Kind.
type Device struct {
	Name         string       `yaml:"name"`
	Kind         Kind         `yaml:"kind"`
	Address      string       `yaml:"address"`                 // Controller host[:port]
	Valve        int          `yaml:"valve,omitempty"`         // valve, outlet: 1 or 2
	Outlet       int          `yaml:"outlet,omitempty"`        // outlet: 1-6
	OutletType   string       `yaml:"outlet_type,omitempty"`   // outlet: controller type code ("outlet_12")
	Ports        int          `yaml:"ports,omitempty"`         // valve: outlet ports available
	Zone         int          `yaml:"zone,omitempty"`          // light: 1-3
	SteamMinutes int          `yaml:"steam_minutes,omitempty"` // steamer: session length
	Presets      []PresetMeta `yaml:"presets,omitempty"`       // controller: named presets
	AddedAt      time.Time    `yaml:"added_at,omitempty"`
}

// PresetMeta is a user preset as last read from the controller
type PresetMeta struct {
	ID   int    `yaml:"id"`
	Name string `yaml:"name"`
}

// Preferences represents application-wide user preferences.
type Preferences struct {
	DefaultAddress string `yaml:"default_address,omitempty"` // Used by CLI commands when --address is omitted
}

// NewRegistry creates a new Registry with default values.
func NewRegistry() *Registry {
	return &Registry{
		Version:     1,
		Devices:     make(map[string]*Device),
		Preferences: &Preferences{},
	}
}

// Validate checks a device entry for the fields its kind requires
func (d *Device) Validate() error {
	if !d.Kind.Valid() {
		return fmt.Errorf("unknown device kind %q", d.Kind)
	}
	if strings.TrimSpace(d.Address) == "" {
		return fmt.Errorf("address is required")
	}

	switch d.Kind {
	case KindValve:
		if d.Valve != 1 && d.Valve != 2 {
			return fmt.Errorf("valve must be 1 or 2, got %d", d.Valve)
		}
		if d.Ports < 0 || d.Ports > 6 {
			return fmt.Errorf("ports must be 0-6, got %d", d.Ports)
		}
	case KindOutletZone:
		if d.Valve != 1 && d.Valve != 2 {
			return fmt.Errorf("valve must be 1 or 2, got %d", d.Valve)
		}
		if d.Outlet < 1 || d.Outlet > 6 {
			return fmt.Errorf("outlet must be 1-6, got %d", d.Outlet)
		}
	case KindLight:
		if d.Zone < 1 || d.Zone > 3 {
			return fmt.Errorf("zone must be 1-3, got %d", d.Zone)
		}
	case KindSteamer:
		if d.SteamMinutes < 0 || d.SteamMinutes > 60 {
			return fmt.Errorf("steam_minutes must be 0-60, got %d", d.SteamMinutes)
		}
	}
	return nil
}

// GetDevice retrieves a device by ID.
// Returns nil if the device doesn't exist in the registry.
func (r *Registry) GetDevice(id string) *Device {
	return r.Devices[id]
}

// AddDevice validates and stores a device under id, replacing any entry
// with the same ID.
func (r *Registry) AddDevice(id string, device *Device) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("device ID is required")
	}
	if err := device.Validate(); err != nil {
		return fmt.Errorf("device %s: %w", id, err)
	}
	if r.Devices == nil {
		r.Devices = make(map[string]*Device)
	}
	if device.AddedAt.IsZero() {
		device.AddedAt = time.Now().UTC()
	}
	r.Devices[id] = device
	return nil
}

// RemoveDevice deletes a device, reporting whether it existed
func (r *Registry) RemoveDevice(id string) bool {
	if _, ok := r.Devices[id]; !ok {
		return false
	}
	delete(r.Devices, id)
	return true
}

// SetAddress changes the controller address of a device
func (r *Registry) SetAddress(id, address string) error {
	device, ok := r.Devices[id]
	if !ok {
		return fmt.Errorf("device %s not found", id)
	}
	if strings.TrimSpace(address) == "" {
		return fmt.Errorf("address is required")
	}
	device.Address = address
	return nil
}

// DeviceIDs returns all device IDs, sorted
func (r *Registry) DeviceIDs() []string {
	ids := make([]string, 0, len(r.Devices))
	for id := range r.Devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DevicesAt returns the IDs of devices bound to a controller address, sorted
func (r *Registry) DevicesAt(address string) []string {
	var ids []string
	for _, id := range r.DeviceIDs() {
		if r.Devices[id].Address == address {
			ids = append(ids, id)
		}
	}
	return ids
}

// NewDeviceID derives a registry ID from a controller address and a suffix,
// e.g. "192-168-1-40-valve1".
func NewDeviceID(address, suffix string) string {
	clean := strings.NewReplacer(".", "-", ":", "-", "[", "", "]", "").Replace(strings.TrimSpace(address))
	return clean + "-" + suffix
}
