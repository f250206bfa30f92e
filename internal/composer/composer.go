package composer

import (
	"fmt"

	"github.com/muurk/dtvplus/internal/dtvclient"
)

// OutletRule selects how the untouched valve's outlets are read from a
// status snapshot.
//
// The controller keeps reporting per-outlet flags for a valve after it has
// stopped, because the flags describe wiring assignment rather than flow.
// The two device styles treat those stale flags differently and both
// behaviors are kept:
//
//   - RuleUnconditional (outlet zone devices): the flags are taken as-is, so
//     an outlet left assigned while the valve was off comes back on resume.
//   - RuleGatedByRunning (valve devices): a valve whose status is not "On"
//     contributes no outlets, whatever its flags say.
type OutletRule int

const (
	RuleUnconditional OutletRule = iota
	RuleGatedByRunning
)

func (r OutletRule) String() string {
	switch r {
	case RuleUnconditional:
		return "unconditional"
	case RuleGatedByRunning:
		return "gated-by-running"
	default:
		return fmt.Sprintf("OutletRule(%d)", int(r))
	}
}

// Plan is what a caller should send: either a compound shower command or,
// when Stop is set, the controller's stop command.
type Plan struct {
	Stop    bool
	Command dtvclient.ShowerCommand
}

func (p Plan) String() string {
	if p.Stop {
		return "stop"
	}
	return p.Command.String()
}

// OtherValveOutlets reads the open outlets of a valve from a snapshot using
// the given rule. An absent snapshot yields no outlets.
func OtherValveOutlets(valve dtvclient.Valve, info dtvclient.SystemInfo, rule OutletRule) dtvclient.OutletSelector {
	if info == nil {
		return dtvclient.NoOutlets
	}
	if rule == RuleGatedByRunning && !info.Running(valve) {
		return dtvclient.NoOutlets
	}
	return info.OpenOutlets(valve)
}

// OtherValveTemp returns the device-native setpoint of a valve, or the
// default temperature when the snapshot has none (or reports zero).
func OtherValveTemp(valve dtvclient.Valve, info dtvclient.SystemInfo) float64 {
	if sp, ok := info.Setpoint(valve); ok && sp != 0 {
		return sp
	}
	return dtvclient.DefaultShowerTemp
}

// OtherValveRunning reports whether the valve opposite target is running
func OtherValveRunning(target dtvclient.Valve, info dtvclient.SystemInfo) bool {
	return info.Running(target.Other())
}

// BuildShowerCommand places the desired outlets and temperature on the
// target valve verbatim and preserves the other valve from the snapshot.
//
// The other side keeps its open outlets and setpoint only while the snapshot
// reports it running; otherwise, or without a snapshot, it is sent as "0" at
// the default temperature.
func BuildShowerCommand(target dtvclient.Valve, outlets dtvclient.OutletSelector, temp float64, info dtvclient.SystemInfo) dtvclient.ShowerCommand {
	other := target.Other()

	otherOutlets := OtherValveOutlets(other, info, RuleGatedByRunning)
	otherTemp := float64(dtvclient.DefaultShowerTemp)
	if info.Running(other) {
		otherTemp = OtherValveTemp(other, info)
	}

	return dtvclient.ShowerCommand{}.
		WithSide(target, outlets, temp).
		WithSide(other, otherOutlets, otherTemp)
}

// IsFullyClosed reports whether both selectors serialize to "0". Callers
// send a stop instead of a compound command with no outlets.
func IsFullyClosed(valve1, valve2 dtvclient.OutletSelector) bool {
	return valve1.String() == "0" && valve2.String() == "0"
}

// PlanValveOff turns the target valve off. While the other valve runs, only
// the target side is zeroed so the other keeps flowing; otherwise the plan
// is a stop.
func PlanValveOff(target dtvclient.Valve, info dtvclient.SystemInfo) Plan {
	if !OtherValveRunning(target, info) {
		return Plan{Stop: true}
	}
	cmd := BuildShowerCommand(target, dtvclient.NoOutlets, dtvclient.DefaultShowerTemp, info)
	if IsFullyClosed(cmd.Valve1Outlets, cmd.Valve2Outlets) {
		return Plan{Stop: true}
	}
	return Plan{Command: cmd}
}

// PlanValve sets the target valve to the desired outlets and temperature.
// An empty selector means the valve is being turned off.
func PlanValve(target dtvclient.Valve, outlets dtvclient.OutletSelector, temp float64, info dtvclient.SystemInfo) Plan {
	if outlets.IsEmpty() {
		return PlanValveOff(target, info)
	}
	return Plan{Command: BuildShowerCommand(target, outlets, temp, info)}
}

// PlanOutletToggle flips one outlet for an outlet zone device.
//
// Both valves are rebuilt from the snapshot's per-outlet flags with
// RuleUnconditional and only the one outlet is changed. Each side keeps its
// setpoint, falling back to the default temperature. When nothing is left
// open anywhere the plan is a stop.
func PlanOutletToggle(valve dtvclient.Valve, outlet int, open bool, info dtvclient.SystemInfo) Plan {
	v1 := OtherValveOutlets(dtvclient.Valve1, info, RuleUnconditional)
	v2 := OtherValveOutlets(dtvclient.Valve2, info, RuleUnconditional)
	if valve == dtvclient.Valve2 {
		v2 = v2.Set(outlet, open)
	} else {
		v1 = v1.Set(outlet, open)
	}

	if IsFullyClosed(v1, v2) {
		return Plan{Stop: true}
	}
	return Plan{Command: dtvclient.ShowerCommand{
		Valve1Outlets: v1,
		Valve1Temp:    OtherValveTemp(dtvclient.Valve1, info),
		Valve2Outlets: v2,
		Valve2Temp:    OtherValveTemp(dtvclient.Valve2, info),
	}}
}
