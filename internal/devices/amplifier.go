package devices

import (
	"context"

	"github.com/muurk/dtvplus/internal/dtvclient"
	"github.com/muurk/dtvplus/internal/hub"
)

// DefaultVolume is used when the controller has not reported a volume yet
const DefaultVolume = 50

// Amplifier controls the music amplifier. The controller reports volume but
// not whether music is playing, so on/off is whatever was last commanded.
type Amplifier struct {
	*base

	// guarded by base.mu
	on     bool
	volume int
}

func newAmplifier(b *base) *Amplifier {
	b.state[CapOnOff] = false
	b.state[CapVolume] = DefaultVolume
	return &Amplifier{base: b, volume: DefaultVolume}
}

func (a *Amplifier) OnSystemInfo(ctx context.Context, info dtvclient.SystemInfo) error {
	a.storeInfo(info, func(s State) {
		if vol, ok := info.Volume(); ok {
			a.volume = vol
			s[CapVolume] = vol
		}
	})
	return nil
}

func (a *Amplifier) Set(ctx context.Context, capability string, value any) error {
	switch capability {
	case CapOnOff:
		on, err := toBool(capability, value)
		if err != nil {
			return err
		}
		return a.SetOn(ctx, on)
	case CapVolume:
		vol, err := toInt(capability, value)
		if err != nil {
			return err
		}
		return a.SetVolume(ctx, vol)
	}
	return unknownCapability(string(a.kind), capability)
}

// SetOn starts music at the current volume or stops it
func (a *Amplifier) SetOn(ctx context.Context, on bool) error {
	a.mu.Lock()
	vol := a.volume
	a.mu.Unlock()

	err := a.commanded(ctx, "onoff", func(ctx context.Context, client hub.Controller, _ string, _ dtvclient.SystemInfo, _ dtvclient.Values) error {
		if on {
			_, err := client.MusicOn(ctx, vol)
			return err
		}
		_, err := client.MusicOff(ctx)
		return err
	})
	if err != nil {
		return err
	}
	a.update(func(s State) {
		a.on = on
		s[CapOnOff] = on
	})
	return nil
}

// SetVolume sets the volume percentage, starting music if it was off
func (a *Amplifier) SetVolume(ctx context.Context, volume int) error {
	if err := dtvclient.ValidateVolume(volume); err != nil {
		return err
	}
	err := a.commanded(ctx, "volume", func(ctx context.Context, client hub.Controller, _ string, _ dtvclient.SystemInfo, _ dtvclient.Values) error {
		_, err := client.MusicOn(ctx, volume)
		return err
	})
	if err != nil {
		return err
	}
	a.update(func(s State) {
		a.on = true
		a.volume = volume
		s[CapOnOff] = true
		s[CapVolume] = volume
	})
	return nil
}
