package devices

import (
	"context"
	"errors"
	"fmt"

	"github.com/muurk/dtvplus/internal/config"
	"github.com/muurk/dtvplus/internal/dtvclient"
	"github.com/muurk/dtvplus/internal/hub"
)

// SystemController represents the controller itself: shower and steam
// status, presets and a stop-everything switch. Its presence makes the
// address a known controller.
type SystemController struct {
	*base
}

func newSystemController(b *base, presets []config.PresetMeta) *SystemController {
	known := make([]dtvclient.Preset, 0, len(presets))
	for _, p := range presets {
		known = append(known, dtvclient.Preset{ID: p.ID, Name: p.Name})
	}
	b.state[CapShowerRunning] = false
	b.state[CapSteamRunning] = false
	b.state[CapPresets] = known
	return &SystemController{base: b}
}

// ControllerName names the controller in hub.KnownControllers
func (c *SystemController) ControllerName() string {
	return c.name
}

func (c *SystemController) OnSystemInfo(ctx context.Context, info dtvclient.SystemInfo) error {
	c.storeInfo(info, func(s State) {
		s[CapShowerRunning] = info.AnyRunning()
	})
	return nil
}

func (c *SystemController) OnValues(ctx context.Context, values dtvclient.Values) error {
	c.storeValues(values, func(s State) {
		s[CapSteamRunning] = values.SteamRunning()
		if presets := values.Presets(); len(presets) > 0 {
			s[CapPresets] = presets
		}
	})
	return nil
}

// IsShowerRunning reports whether either valve was running at the last poll
func (c *SystemController) IsShowerRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info.AnyRunning()
}

// Presets returns the presets last read from the controller, or the ones
// stored in the registry before the first configuration poll.
func (c *SystemController) Presets() []dtvclient.Preset {
	c.mu.Lock()
	defer c.mu.Unlock()
	presets, _ := c.state[CapPresets].([]dtvclient.Preset)
	return append([]dtvclient.Preset(nil), presets...)
}

func (c *SystemController) Set(ctx context.Context, capability string, value any) error {
	switch capability {
	case CapPreset:
		preset, err := toInt(capability, value)
		if err != nil {
			return err
		}
		return c.StartPreset(ctx, preset)
	case CapStopAll:
		stop, err := toBool(capability, value)
		if err != nil {
			return err
		}
		if !stop {
			return nil
		}
		return c.StopAll(ctx)
	}
	return unknownCapability(string(c.kind), capability)
}

// StartPreset starts user preset 1-6
func (c *SystemController) StartPreset(ctx context.Context, preset int) error {
	if err := dtvclient.ValidatePreset(preset); err != nil {
		return err
	}
	return c.commanded(ctx, fmt.Sprintf("preset %d", preset), func(ctx context.Context, client hub.Controller, _ string, _ dtvclient.SystemInfo, _ dtvclient.Values) error {
		_, err := client.StartPreset(ctx, preset)
		return err
	})
}

// StopAll stops the shower and then steam. Steam is stopped even when the
// shower stop fails; both errors are reported.
func (c *SystemController) StopAll(ctx context.Context) error {
	return c.commanded(ctx, "stop_all", func(ctx context.Context, client hub.Controller, _ string, _ dtvclient.SystemInfo, _ dtvclient.Values) error {
		_, showerErr := client.StopShower(ctx)
		_, steamErr := client.SteamOff(ctx)
		return errors.Join(showerErr, steamErr)
	})
}
