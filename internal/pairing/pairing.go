package pairing

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/muurk/dtvplus/internal/config"
	"github.com/muurk/dtvplus/internal/dtvclient"
	"github.com/muurk/dtvplus/internal/hub"
	"github.com/muurk/dtvplus/internal/logging"
)

// ErrNoControllers is returned when outlet zones are requested before any
// system controller has been paired.
var ErrNoControllers = errors.New("no DTV+ system controller paired yet; add a system controller first")

// Reader reads both snapshots from one controller. hub.Controller and
// *dtvclient.Client implement it.
type Reader interface {
	ReadSystemInfo(ctx context.Context) (dtvclient.SystemInfo, error)
	ReadValues(ctx context.Context) (dtvclient.Values, error)
}

// Outlet describes one outlet port of a valve
type Outlet struct {
	Number   int    `json:"number"`
	Type     string `json:"type"`
	TypeName string `json:"type_name"`
	Massage  bool   `json:"massage"`
}

// Candidate is a device that can be added to the registry
type Candidate struct {
	ID      string        `json:"id"`
	Device  config.Device `json:"device"`
	Outlets []Outlet      `json:"outlets,omitempty"`
}

// Result is everything a controller offers for pairing
type Result struct {
	Address    string             `json:"address"`
	MAC        string             `json:"mac,omitempty"`
	Fahrenheit bool               `json:"fahrenheit"`
	Presets    []dtvclient.Preset `json:"presets"`
	Candidates []Candidate        `json:"candidates"`
}

// Discover reads a controller and lists its pairable devices. The
// configuration read must succeed; the status read only refines the result.
func Discover(ctx context.Context, address string, r Reader) (*Result, error) {
	values, err := r.ReadValues(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read controller configuration: %w", err)
	}
	info, err := r.ReadSystemInfo(ctx)
	if err != nil {
		logging.Debug("Status read failed during pairing", zap.String("address", address), zap.Error(err))
	}

	return &Result{
		Address:    address,
		MAC:        values.MAC(),
		Fahrenheit: info.Fahrenheit(),
		Presets:    values.Presets(),
		Candidates: ControllerCandidates(address, values),
	}, nil
}

// deviceIDBase is the MAC when the controller reports one, else the address
func deviceIDBase(address string, values dtvclient.Values) string {
	if mac := values.MAC(); mac != "" {
		return mac
	}
	return address
}

// ControllerCandidates lists the controller, its valves, the amplifier, the
// steamer when installed and the three light zones when a lighting module is
// connected. A controller reporting no valve is offered a single six-port
// valve.
func ControllerCandidates(address string, values dtvclient.Values) []Candidate {
	base := deviceIDBase(address, values)
	presets := values.Presets()

	storedPresets := make([]config.PresetMeta, 0, len(presets))
	for _, p := range presets {
		storedPresets = append(storedPresets, config.PresetMeta{ID: p.ID, Name: p.Name})
	}

	candidates := []Candidate{{
		ID: config.NewDeviceID(base, "controller"),
		Device: config.Device{
			Name:    "DTV+ System Controller",
			Kind:    config.KindController,
			Address: address,
			Presets: storedPresets,
		},
	}}

	valves := 0
	for _, v := range []dtvclient.Valve{dtvclient.Valve1, dtvclient.Valve2} {
		if !values.ValveInstalled(v) {
			continue
		}
		valves++
		name := values.ValveName(v)
		if name == "" {
			name = fmt.Sprintf("DTV+ Shower Zone %d", int(v))
		}
		candidates = append(candidates, valveCandidate(base, address, name, v, values.PortsAvailable(v, dtvclient.MaxOutlets), values))
	}
	if valves == 0 {
		candidates = append(candidates, valveCandidate(base, address, "DTV+ Shower", dtvclient.Valve1, dtvclient.MaxOutlets, values))
	}

	candidates = append(candidates, Candidate{
		ID: config.NewDeviceID(base, "amplifier"),
		Device: config.Device{
			Name:    "DTV+ Amplifier",
			Kind:    config.KindAmplifier,
			Address: address,
		},
	})

	if values.SteamInstalled() {
		candidates = append(candidates, Candidate{
			ID: config.NewDeviceID(base, "steamer"),
			Device: config.Device{
				Name:         "Invigoration Steamer",
				Kind:         config.KindSteamer,
				Address:      address,
				SteamMinutes: 10,
			},
		})
	}

	if values.LightingConnected() {
		for z := 1; z <= dtvclient.MaxLightZones; z++ {
			name := values.LightName(z)
			if name == "" {
				name = fmt.Sprintf("Light Zone %d", z)
			}
			candidates = append(candidates, Candidate{
				ID: config.NewDeviceID(base, fmt.Sprintf("light%d", z)),
				Device: config.Device{
					Name:    name,
					Kind:    config.KindLight,
					Address: address,
					Zone:    z,
				},
			})
		}
	}

	return candidates
}

func valveCandidate(base, address, name string, v dtvclient.Valve, ports int, values dtvclient.Values) Candidate {
	return Candidate{
		ID: config.NewDeviceID(base, v.String()),
		Device: config.Device{
			Name:    name,
			Kind:    config.KindValve,
			Address: address,
			Valve:   int(v),
			Ports:   ports,
		},
		Outlets: outlets(v, ports, values),
	}
}

func outlets(v dtvclient.Valve, ports int, values dtvclient.Values) []Outlet {
	list := make([]Outlet, 0, ports)
	for n := 1; n <= ports; n++ {
		typ := values.OutletType(v, n)
		list = append(list, Outlet{
			Number:   n,
			Type:     typ,
			TypeName: dtvclient.OutletTypeName(typ),
			Massage:  values.OutletHasMassage(v, n),
		})
	}
	return list
}

// OutletCandidates lists one outlet zone per reported port of every
// installed valve of each known controller. Names repeated across the whole
// list get a running number: "Zone 1 — Body Spray 1", "Zone 1 — Body Spray 2".
func OutletCandidates(ctx context.Context, controllers []hub.KnownController, newReader func(address string) Reader) ([]Candidate, error) {
	if len(controllers) == 0 {
		return nil, ErrNoControllers
	}

	var candidates []Candidate
	for _, ctrl := range controllers {
		values, err := newReader(ctrl.Address).ReadValues(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", ctrl.Address, err)
		}
		candidates = append(candidates, outletZones(ctrl.Address, values)...)
	}

	dedupeNames(candidates)
	return candidates, nil
}

func outletZones(address string, values dtvclient.Values) []Candidate {
	base := deviceIDBase(address, values)

	var zones []Candidate
	for _, v := range []dtvclient.Valve{dtvclient.Valve1, dtvclient.Valve2} {
		if !values.ValveInstalled(v) {
			continue
		}
		for _, o := range outlets(v, values.PortsAvailable(v, 0), values) {
			zones = append(zones, Candidate{
				ID: config.NewDeviceID(base, fmt.Sprintf("%s-outlet%d", v, o.Number)),
				Device: config.Device{
					Name:       fmt.Sprintf("Zone %d — %s", int(v), o.TypeName),
					Kind:       config.KindOutletZone,
					Address:    address,
					Valve:      int(v),
					Outlet:     o.Number,
					OutletType: o.Type,
				},
				Outlets: []Outlet{o},
			})
		}
	}
	return zones
}

func dedupeNames(candidates []Candidate) {
	count := map[string]int{}
	for _, c := range candidates {
		count[c.Device.Name]++
	}

	index := map[string]int{}
	for i := range candidates {
		name := candidates[i].Device.Name
		if count[name] > 1 {
			index[name]++
			candidates[i].Device.Name = fmt.Sprintf("%s %d", name, index[name])
		}
	}
}

// Apply adds candidates to a registry. Existing entries are left alone
// unless replace is set. It returns the IDs that were written.
func Apply(reg *config.Registry, candidates []Candidate, replace bool) ([]string, error) {
	var added []string
	for _, c := range candidates {
		if !replace && reg.GetDevice(c.ID) != nil {
			continue
		}
		device := c.Device
		if err := reg.AddDevice(c.ID, &device); err != nil {
			return added, err
		}
		added = append(added, c.ID)
	}
	return added, nil
}
