package devices

import (
	"context"

	"github.com/muurk/dtvplus/internal/dtvclient"
	"github.com/muurk/dtvplus/internal/hub"
)

// DefaultLevel is the brightness used when turning a light on before any
// level was set.
const DefaultLevel = 100

// Light controls one zone of the lighting module
type Light struct {
	*base
	zone int

	// guarded by base.mu
	on    bool
	level int
}

func newLight(b *base, zone int) *Light {
	b.state[CapOnOff] = false
	b.state[CapLevel] = DefaultLevel
	return &Light{base: b, zone: zone, level: DefaultLevel}
}

// Zone returns the light zone (1-3)
func (l *Light) Zone() int { return l.zone }

func (l *Light) OnSystemInfo(ctx context.Context, info dtvclient.SystemInfo) error {
	l.storeInfo(info, func(s State) {
		if on, ok := info.LightOn(l.zone); ok {
			l.on = on
			s[CapOnOff] = on
		}
	})
	return nil
}

func (l *Light) Set(ctx context.Context, capability string, value any) error {
	switch capability {
	case CapOnOff:
		on, err := toBool(capability, value)
		if err != nil {
			return err
		}
		return l.SetOn(ctx, on)
	case CapLevel:
		level, err := toInt(capability, value)
		if err != nil {
			return err
		}
		return l.SetLevel(ctx, level)
	}
	return unknownCapability(string(l.kind), capability)
}

// SetOn turns the zone on at its last level, or off
func (l *Light) SetOn(ctx context.Context, on bool) error {
	l.mu.Lock()
	level := l.level
	l.mu.Unlock()

	if on {
		return l.SetLevel(ctx, level)
	}

	err := l.commanded(ctx, "onoff", func(ctx context.Context, client hub.Controller, _ string, _ dtvclient.SystemInfo, _ dtvclient.Values) error {
		_, err := client.LightOff(ctx, l.zone)
		return err
	})
	if err != nil {
		return err
	}
	l.update(func(s State) {
		l.on = false
		s[CapOnOff] = false
	})
	return nil
}

// SetLevel sets the brightness percentage. Level 0 turns the zone off and
// keeps the previous level for the next SetOn.
func (l *Light) SetLevel(ctx context.Context, level int) error {
	if err := dtvclient.ValidateLevel(level); err != nil {
		return err
	}
	if level == 0 {
		return l.SetOn(ctx, false)
	}

	err := l.commanded(ctx, "level", func(ctx context.Context, client hub.Controller, _ string, _ dtvclient.SystemInfo, _ dtvclient.Values) error {
		_, err := client.LightOn(ctx, l.zone, level)
		return err
	})
	if err != nil {
		return err
	}
	l.update(func(s State) {
		l.on = true
		l.level = level
		s[CapOnOff] = true
		s[CapLevel] = level
	})
	return nil
}
