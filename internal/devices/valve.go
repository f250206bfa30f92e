package devices

import (
	"context"
	"fmt"

	"github.com/muurk/dtvplus/internal/composer"
	"github.com/muurk/dtvplus/internal/dtvclient"
	"github.com/muurk/dtvplus/internal/hub"
)

// DefaultValveTarget is the target temperature in Celsius before the
// controller reports a setpoint.
const DefaultValveTarget = 38.0

// Valve controls one valve with a master on/off, a target temperature and a
// toggle per outlet port.
//
// Outlet toggles are local while the valve is off: they pick which outlets
// open when it is turned on. While it runs they follow the controller.
type Valve struct {
	*base
	valve dtvclient.Valve
	ports int

	// guarded by base.mu
	on      bool
	target  float64
	toggles dtvclient.OutletSelector
}

func newValve(b *base, valve dtvclient.Valve, ports int) *Valve {
	if ports <= 0 || ports > dtvclient.MaxOutlets {
		ports = dtvclient.MaxOutlets
	}
	v := &Valve{base: b, valve: valve, ports: ports, target: DefaultValveTarget}
	b.state[CapOnOff] = false
	b.state[CapTargetTemperature] = DefaultValveTarget
	for n := 1; n <= ports; n++ {
		b.state[OutletCapability(n)] = false
	}
	return v
}

// Valve returns the valve number this device drives
func (v *Valve) Valve() dtvclient.Valve { return v.valve }

// Ports returns the number of outlet toggles
func (v *Valve) Ports() int { return v.ports }

func (v *Valve) OnSystemInfo(ctx context.Context, info dtvclient.SystemInfo) error {
	v.storeInfo(info, func(s State) {
		if measured, ok := info.Temperature(v.valve); ok {
			s[CapMeasureTemperature] = dtvclient.ToLogical(measured, info.Fahrenheit())
		}
		if sp, ok := info.Setpoint(v.valve); ok && sp != 0 {
			v.target = dtvclient.ToLogical(sp, info.Fahrenheit())
			s[CapTargetTemperature] = v.target
		}

		v.on = info.Running(v.valve)
		s[CapOnOff] = v.on

		v.toggles = info.OpenOutlets(v.valve) & dtvclient.AllOutlets(v.ports)
		for n := 1; n <= v.ports; n++ {
			s[OutletCapability(n)] = v.toggles.Has(n)
		}
	})
	return nil
}

func (v *Valve) Set(ctx context.Context, capability string, value any) error {
	switch capability {
	case CapOnOff:
		on, err := toBool(capability, value)
		if err != nil {
			return err
		}
		return v.SetOn(ctx, on)
	case CapTargetTemperature:
		temp, err := toFloat(capability, value)
		if err != nil {
			return err
		}
		return v.SetTargetTemperature(ctx, temp)
	}
	if n, ok := parseOutletCapability(capability); ok && n <= v.ports {
		open, err := toBool(capability, value)
		if err != nil {
			return err
		}
		return v.SetOutlet(ctx, n, open)
	}
	return unknownCapability(string(v.kind), capability)
}

// SetOn starts the valve on its enabled outlets, or turns it off without
// disturbing the other valve.
func (v *Valve) SetOn(ctx context.Context, on bool) error {
	err := v.commanded(ctx, "onoff", func(ctx context.Context, client hub.Controller, _ string, info dtvclient.SystemInfo, _ dtvclient.Values) error {
		if !on {
			return execute(ctx, client, composer.PlanValveOff(v.valve, info))
		}
		outlets, target := v.enabledOutlets()
		return execute(ctx, client, composer.PlanValve(v.valve, outlets, info.FromCelsius(target), info))
	})
	if err != nil {
		return err
	}

	v.update(func(s State) {
		v.on = on
		s[CapOnOff] = on
		if on && v.toggles.IsEmpty() {
			v.toggles = dtvclient.AllOutlets(v.ports)
			for n := 1; n <= v.ports; n++ {
				s[OutletCapability(n)] = true
			}
		}
	})
	return nil
}

// SetTargetTemperature stores a Celsius target. It is sent only while the
// valve is on; otherwise it applies the next time the valve starts.
func (v *Valve) SetTargetTemperature(ctx context.Context, celsius float64) error {
	if err := dtvclient.ValidateShowerTemp(celsius); err != nil {
		return err
	}

	v.mu.Lock()
	on := v.on
	v.mu.Unlock()

	if on {
		err := v.commanded(ctx, "target_temperature", func(ctx context.Context, client hub.Controller, _ string, info dtvclient.SystemInfo, _ dtvclient.Values) error {
			outlets, _ := v.enabledOutlets()
			return execute(ctx, client, composer.PlanValve(v.valve, outlets, info.FromCelsius(celsius), info))
		})
		if err != nil {
			return err
		}
	}

	v.update(func(s State) {
		v.target = celsius
		s[CapTargetTemperature] = celsius
	})
	return nil
}

// SetOutlet toggles one outlet. While the valve is off only the toggle is
// stored. While it is on the valve is resent with the new outlet set, and
// closing the last outlet turns the valve off.
func (v *Valve) SetOutlet(ctx context.Context, n int, open bool) error {
	if n < 1 || n > v.ports {
		return dtvclient.NewValidationError(fmt.Sprintf("outlet must be 1-%d, got %d", v.ports, n))
	}

	v.mu.Lock()
	on := v.on
	outlets := v.toggles.Set(n, open)
	target := v.target
	v.mu.Unlock()

	if on {
		err := v.commanded(ctx, OutletCapability(n), func(ctx context.Context, client hub.Controller, _ string, info dtvclient.SystemInfo, _ dtvclient.Values) error {
			return execute(ctx, client, composer.PlanValve(v.valve, outlets, info.FromCelsius(target), info))
		})
		if err != nil {
			return err
		}
	}

	v.update(func(s State) {
		v.toggles = v.toggles.Set(n, open)
		s[OutletCapability(n)] = open
		if on && v.toggles.IsEmpty() {
			v.on = false
			s[CapOnOff] = false
		}
	})
	return nil
}

// enabledOutlets returns the outlets to open on start: the enabled toggles,
// or every port when none is enabled.
func (v *Valve) enabledOutlets() (dtvclient.OutletSelector, float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	outlets := v.toggles
	if outlets.IsEmpty() {
		outlets = dtvclient.AllOutlets(v.ports)
	}
	return outlets, v.target
}
