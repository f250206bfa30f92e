package devices

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/muurk/dtvplus/internal/composer"
	"github.com/muurk/dtvplus/internal/config"
	"github.com/muurk/dtvplus/internal/dtvclient"
	"github.com/muurk/dtvplus/internal/hub"
	"github.com/muurk/dtvplus/internal/logging"
)

// Bus is the part of the hub a device talks to. *hub.Hub implements it.
type Bus interface {
	Client(address string) hub.Controller
	RequestExtraPoll(address string)
}

// Device is a logical device bound to one controller address
type Device interface {
	hub.Subscriber

	ID() string
	Name() string
	Kind() config.Kind
	Address() string

	// State returns a copy of the current capability values
	State() State

	// Set writes one capability, sending whatever commands that takes
	Set(ctx context.Context, capability string, value any) error

	core() *base
}

// View is the serializable form of a device
type View struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Kind    config.Kind `json:"kind"`
	Address string      `json:"address"`
	State   State       `json:"state"`
}

// Describe captures a device's identity and current state
func Describe(d Device) View {
	return View{
		ID:      d.ID(),
		Name:    d.Name(),
		Kind:    d.Kind(),
		Address: d.Address(),
		State:   d.State(),
	}
}

// New builds the device for a registry entry. onChange, if set, is called
// after every state change, outside any device lock.
func New(id string, cfg *config.Device, bus Bus, onChange func(Device)) (Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("device %s: %w", id, err)
	}

	b := &base{
		id:       id,
		name:     cfg.Name,
		kind:     cfg.Kind,
		address:  cfg.Address,
		bus:      bus,
		onChange: onChange,
		state:    State{},
	}
	if b.name == "" {
		b.name = id
	}

	var d Device
	switch cfg.Kind {
	case config.KindValve:
		d = newValve(b, dtvclient.Valve(cfg.Valve), cfg.Ports)
	case config.KindOutletZone:
		d = newOutletZone(b, dtvclient.Valve(cfg.Valve), cfg.Outlet)
	case config.KindAmplifier:
		d = newAmplifier(b)
	case config.KindSteamer:
		d = newSteamer(b, cfg.SteamMinutes)
	case config.KindLight:
		d = newLight(b, cfg.Zone)
	case config.KindController:
		d = newSystemController(b, cfg.Presets)
	default:
		return nil, fmt.Errorf("device %s: unsupported kind %q", id, cfg.Kind)
	}
	b.self = d
	return d, nil
}

// base carries what every device kind shares. mu guards the mutable fields;
// cmdMu serializes commands so a device never has two in flight. Neither is
// held while calling onChange.
type base struct {
	id   string
	name string
	kind config.Kind
	bus  Bus
	self Device

	onChange func(Device)

	cmdMu sync.Mutex

	mu      sync.Mutex
	address string
	info    dtvclient.SystemInfo
	values  dtvclient.Values
	state   State
}

func (b *base) ID() string        { return b.id }
func (b *base) Name() string      { return b.name }
func (b *base) Kind() config.Kind { return b.kind }
func (b *base) core() *base       { return b }

func (b *base) Address() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.address
}

func (b *base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.Clone()
}

// snapshot returns the address and the last snapshots delivered to the device
func (b *base) snapshot() (string, dtvclient.SystemInfo, dtvclient.Values) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.address, b.info, b.values
}

// rebind moves the device to a new address and forgets the old snapshots
func (b *base) rebind(address string) {
	b.mu.Lock()
	b.address = address
	b.info = nil
	b.values = nil
	b.mu.Unlock()
}

// update applies fn to the state under the lock and notifies on change
func (b *base) update(fn func(s State)) {
	b.mu.Lock()
	before := b.state.Clone()
	fn(b.state)
	changed := !sameState(before, b.state)
	b.mu.Unlock()

	if changed && b.onChange != nil {
		b.onChange(b.self)
	}
}

// storeInfo records the latest status snapshot and applies fn to the state
func (b *base) storeInfo(info dtvclient.SystemInfo, fn func(s State)) {
	b.mu.Lock()
	b.info = info
	b.mu.Unlock()
	b.update(fn)
}

// storeValues records the latest configuration snapshot and applies fn
func (b *base) storeValues(values dtvclient.Values, fn func(s State)) {
	b.mu.Lock()
	b.values = values
	b.mu.Unlock()
	b.update(fn)
}

// commanded runs a command with cmdMu held and, on success, requests an
// extra status poll so the result shows up promptly.
func (b *base) commanded(ctx context.Context, what string, fn func(ctx context.Context, client hub.Controller, address string, info dtvclient.SystemInfo, values dtvclient.Values) error) error {
	b.cmdMu.Lock()
	defer b.cmdMu.Unlock()

	address, info, values := b.snapshot()
	client := b.bus.Client(address)

	if err := fn(ctx, client, address, info, values); err != nil {
		logging.Warn("Device command failed",
			zap.String("device", b.id),
			zap.String("command", what),
			zap.String("address", address),
			zap.Error(err),
		)
		return err
	}

	logging.Debug("Device command sent",
		zap.String("device", b.id),
		zap.String("command", what),
		zap.String("address", address),
	)
	b.bus.RequestExtraPoll(address)
	return nil
}

// execute sends a composer plan
func execute(ctx context.Context, client hub.Controller, plan composer.Plan) error {
	if plan.Stop {
		_, err := client.StopShower(ctx)
		return err
	}
	if err := dtvclient.ValidateShowerCommand(plan.Command); err != nil {
		return err
	}
	_, err := client.StartShower(ctx, plan.Command)
	return err
}

func sameState(a, b State) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || fmt.Sprint(av) != fmt.Sprint(bv) {
			return false
		}
	}
	return true
}
