package devices

import (
	"context"

	"github.com/muurk/dtvplus/internal/dtvclient"
	"github.com/muurk/dtvplus/internal/hub"
)

const (
	// DefaultSteamTarget is the steam temperature in Celsius until one is set
	DefaultSteamTarget = 43.0

	// DefaultSteamMinutes is the session length when the registry has none
	DefaultSteamMinutes = 10
)

// Steamer controls the steam generator. Whether steam is running comes from
// the configuration snapshot, not the status snapshot.
type Steamer struct {
	*base
	minutes int

	// guarded by base.mu
	on     bool
	target float64
}

func newSteamer(b *base, minutes int) *Steamer {
	if minutes <= 0 {
		minutes = DefaultSteamMinutes
	}
	b.state[CapOnOff] = false
	b.state[CapTargetTemperature] = DefaultSteamTarget
	return &Steamer{base: b, minutes: minutes, target: DefaultSteamTarget}
}

// Minutes returns the session length used by SetOn
func (st *Steamer) Minutes() int { return st.minutes }

func (st *Steamer) OnSystemInfo(ctx context.Context, info dtvclient.SystemInfo) error {
	st.storeInfo(info, func(State) {})
	return nil
}

func (st *Steamer) OnValues(ctx context.Context, values dtvclient.Values) error {
	st.storeValues(values, func(s State) {
		st.on = values.SteamRunning()
		s[CapOnOff] = st.on
	})
	return nil
}

func (st *Steamer) Set(ctx context.Context, capability string, value any) error {
	switch capability {
	case CapOnOff:
		on, err := toBool(capability, value)
		if err != nil {
			return err
		}
		return st.SetOn(ctx, on)
	case CapTargetTemperature:
		temp, err := toFloat(capability, value)
		if err != nil {
			return err
		}
		return st.SetTargetTemperature(ctx, temp)
	}
	return unknownCapability(string(st.kind), capability)
}

// SetOn starts a steam session at the target temperature, or stops steam
func (st *Steamer) SetOn(ctx context.Context, on bool) error {
	if !on {
		err := st.commanded(ctx, "onoff", func(ctx context.Context, client hub.Controller, _ string, _ dtvclient.SystemInfo, _ dtvclient.Values) error {
			_, err := client.SteamOff(ctx)
			return err
		})
		if err != nil {
			return err
		}
		st.update(func(s State) {
			st.on = false
			s[CapOnOff] = false
		})
		return nil
	}

	st.mu.Lock()
	target := st.target
	st.mu.Unlock()
	return st.StartSteam(ctx, target, st.minutes)
}

// SetTargetTemperature stores a Celsius target, restarting the session at
// the new temperature when steam is running.
func (st *Steamer) SetTargetTemperature(ctx context.Context, celsius float64) error {
	st.mu.Lock()
	on := st.on
	st.mu.Unlock()

	if on {
		return st.StartSteam(ctx, celsius, st.minutes)
	}
	if err := dtvclient.ValidateSteam(celsius, st.minutes); err != nil {
		return err
	}
	st.update(func(s State) {
		st.target = celsius
		s[CapTargetTemperature] = celsius
	})
	return nil
}

// StartSteam starts a session at a Celsius temperature for the given minutes
func (st *Steamer) StartSteam(ctx context.Context, celsius float64, minutes int) error {
	if err := dtvclient.ValidateSteam(celsius, minutes); err != nil {
		return err
	}
	err := st.commanded(ctx, "steam", func(ctx context.Context, client hub.Controller, _ string, info dtvclient.SystemInfo, _ dtvclient.Values) error {
		_, err := client.SteamOn(ctx, info.FromCelsius(celsius), minutes)
		return err
	})
	if err != nil {
		return err
	}
	st.update(func(s State) {
		st.on = true
		st.target = celsius
		s[CapOnOff] = true
		s[CapTargetTemperature] = celsius
	})
	return nil
}
