package devices

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/dtvplus/internal/config"
	"github.com/muurk/dtvplus/internal/hub"
	"github.com/muurk/dtvplus/internal/logging"
)

// ErrDeviceNotFound is returned for an unknown device ID
var ErrDeviceNotFound = errors.New("device not found")

// Registrar is the part of the hub the manager uses to bind devices to
// addresses. *hub.Hub implements it.
type Registrar interface {
	Bus
	Subscribe(address string, sub hub.Subscriber)
	Unsubscribe(address string, sub hub.Subscriber)
}

// Manager owns the live devices and keeps their hub subscriptions in step
// with their addresses.
type Manager struct {
	hub Registrar

	mu        sync.RWMutex
	devices   map[string]Device
	configs   map[string]config.Device
	listeners []func(Device)
}

// NewManager creates a manager on top of a hub
func NewManager(h Registrar) *Manager {
	return &Manager{
		hub:     h,
		devices: make(map[string]Device),
		configs: make(map[string]config.Device),
	}
}

// OnChange registers fn to be called after any device's state changes.
// fn runs on the hub's delivery goroutine or the caller of Set and must not
// block for long.
func (m *Manager) OnChange(fn func(Device)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Manager) notify(d Device) {
	m.mu.RLock()
	listeners := append([]func(Device){}, m.listeners...)
	m.mu.RUnlock()

	for _, fn := range listeners {
		fn(d)
	}
}

// Add creates a device from a registry entry and subscribes it to its
// address. An existing device with the same ID is replaced.
func (m *Manager) Add(id string, cfg *config.Device) (Device, error) {
	d, err := New(id, cfg, m.hub, m.notify)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	old, replaced := m.devices[id]
	m.devices[id] = d
	m.configs[id] = *cfg
	m.mu.Unlock()

	if replaced {
		m.hub.Unsubscribe(old.Address(), old)
	}
	m.hub.Subscribe(d.Address(), d)

	logging.Info("Device added",
		zap.String("device", id),
		zap.String("kind", string(d.Kind())),
		zap.String("address", d.Address()),
	)
	return d, nil
}

// LoadRegistry adds every device in a registry. Invalid entries are logged
// and skipped; the count of devices added is returned.
func (m *Manager) LoadRegistry(reg *config.Registry) int {
	added := 0
	for _, id := range reg.DeviceIDs() {
		if _, err := m.Add(id, reg.GetDevice(id)); err != nil {
			logging.Warn("Skipping registry device", zap.String("device", id), zap.Error(err))
			continue
		}
		added++
	}
	return added
}

// SyncResult counts what Sync changed
type SyncResult struct {
	Added   int
	Moved   int
	Removed int
}

// Sync brings the live devices in line with a registry. Devices whose only
// change is their address are moved without being rebuilt, so they keep
// their state; any other change rebuilds the device.
func (m *Manager) Sync(reg *config.Registry) SyncResult {
	var res SyncResult

	wanted := make(map[string]bool)
	for _, id := range reg.DeviceIDs() {
		wanted[id] = true
		cfg := reg.GetDevice(id)

		m.mu.RLock()
		current, exists := m.configs[id]
		m.mu.RUnlock()

		switch {
		case exists && sameExceptAddress(current, *cfg):
			if current.Address != cfg.Address {
				if err := m.SetAddress(id, cfg.Address); err == nil {
					res.Moved++
				}
			}
		default:
			if _, err := m.Add(id, cfg); err != nil {
				logging.Warn("Skipping registry device", zap.String("device", id), zap.Error(err))
				continue
			}
			res.Added++
		}
	}

	for _, d := range m.List() {
		if !wanted[d.ID()] && m.Remove(d.ID()) {
			res.Removed++
		}
	}
	return res
}

func sameExceptAddress(a, b config.Device) bool {
	a.Address, b.Address = "", ""
	a.AddedAt, b.AddedAt = time.Time{}, time.Time{}
	return reflect.DeepEqual(a, b)
}

// Remove unsubscribes and forgets a device
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	d, ok := m.devices[id]
	delete(m.devices, id)
	delete(m.configs, id)
	m.mu.Unlock()

	if !ok {
		return false
	}
	m.hub.Unsubscribe(d.Address(), d)
	logging.Info("Device removed", zap.String("device", id))
	return true
}

// Get returns a device by ID
func (m *Manager) Get(id string) (Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[id]
	return d, ok
}

// List returns all devices sorted by ID
func (m *Manager) List() []Device {
	m.mu.RLock()
	list := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		list = append(list, d)
	}
	m.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].ID() < list[j].ID() })
	return list
}

// SetAddress moves a device to another controller: it leaves the old
// address, drops its cached snapshots and subscribes at the new one.
func (m *Manager) SetAddress(id, address string) error {
	d, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}

	old := d.Address()
	if old == address {
		return nil
	}

	m.hub.Unsubscribe(old, d)
	d.core().rebind(address)
	m.hub.Subscribe(address, d)

	m.mu.Lock()
	if cfg, ok := m.configs[id]; ok {
		cfg.Address = address
		m.configs[id] = cfg
	}
	m.mu.Unlock()

	logging.Info("Device address changed",
		zap.String("device", id),
		zap.String("from", old),
		zap.String("to", address),
	)
	return nil
}

// Set writes a capability of a device
func (m *Manager) Set(ctx context.Context, id, capability string, value any) error {
	d, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return d.Set(ctx, capability, value)
}

// Close unsubscribes every device
func (m *Manager) Close() {
	m.mu.Lock()
	devices := m.devices
	m.devices = make(map[string]Device)
	m.mu.Unlock()

	for _, d := range devices {
		m.hub.Unsubscribe(d.Address(), d)
	}
}
