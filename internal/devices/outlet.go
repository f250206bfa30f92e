package devices

import (
	"context"

	"github.com/muurk/dtvplus/internal/composer"
	"github.com/muurk/dtvplus/internal/dtvclient"
	"github.com/muurk/dtvplus/internal/hub"
)

// OutletZone switches a single outlet of a valve. Turning it on or off
// resends both valves as last reported, with only this outlet changed.
type OutletZone struct {
	*base
	valve  dtvclient.Valve
	outlet int
}

func newOutletZone(b *base, valve dtvclient.Valve, outlet int) *OutletZone {
	b.state[CapOnOff] = false
	return &OutletZone{base: b, valve: valve, outlet: outlet}
}

// Valve returns the valve the outlet belongs to
func (o *OutletZone) Valve() dtvclient.Valve { return o.valve }

// Outlet returns the outlet number on its valve
func (o *OutletZone) Outlet() int { return o.outlet }

func (o *OutletZone) OnSystemInfo(ctx context.Context, info dtvclient.SystemInfo) error {
	o.storeInfo(info, func(s State) {
		s[CapOnOff] = info.OutletOpen(o.valve, o.outlet)
	})
	return nil
}

func (o *OutletZone) Set(ctx context.Context, capability string, value any) error {
	if capability != CapOnOff {
		return unknownCapability(string(o.kind), capability)
	}
	open, err := toBool(capability, value)
	if err != nil {
		return err
	}
	return o.SetOn(ctx, open)
}

// SetOn opens or closes the outlet
func (o *OutletZone) SetOn(ctx context.Context, open bool) error {
	err := o.commanded(ctx, "onoff", func(ctx context.Context, client hub.Controller, _ string, info dtvclient.SystemInfo, _ dtvclient.Values) error {
		return execute(ctx, client, composer.PlanOutletToggle(o.valve, o.outlet, open, info))
	})
	if err != nil {
		return err
	}
	o.update(func(s State) { s[CapOnOff] = open })
	return nil
}
