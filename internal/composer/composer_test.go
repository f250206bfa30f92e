package composer

import (
	"fmt"
	"testing"

	"github.com/muurk/dtvplus/internal/dtvclient"
)

func selector(t *testing.T, s string) dtvclient.OutletSelector {
	t.Helper()
	sel, err := dtvclient.ParseOutletSelector(s)
	if err != nil {
		t.Fatalf("ParseOutletSelector(%q) error = %v", s, err)
	}
	return sel
}

func TestBuildShowerCommandPreservesRunningValve(t *testing.T) {
	info := dtvclient.SystemInfo{
		"valve2_Currentstatus": "On",
		"valve2outlet2":        true,
		"valve2Setpoint":       "38",
	}

	cmd := BuildShowerCommand(dtvclient.Valve1, selector(t, "13"), 40, info)

	if got := cmd.String(); got != `{valve1:"13",40 valve2:"2",38}` {
		t.Errorf("BuildShowerCommand() = %s", got)
	}
}

func TestBuildShowerCommandFallbacks(t *testing.T) {
	tests := []struct {
		name string
		info dtvclient.SystemInfo
	}{
		{"no snapshot", nil},
		{"other valve off with stale flags", dtvclient.SystemInfo{
			"valve1_Currentstatus": "Off",
			"valve1outlet1":        true,
			"valve1outlet4":        true,
			"valve1Setpoint":       "41",
		}},
		{"other valve status missing", dtvclient.SystemInfo{"valve1outlet1": true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := BuildShowerCommand(dtvclient.Valve2, selector(t, "56"), 39, tt.info)

			if got := cmd.Valve1Outlets.String(); got != "0" {
				t.Errorf("other outlets = %q, want 0", got)
			}
			if cmd.Valve1Temp != 100 {
				t.Errorf("other temp = %v, want 100", cmd.Valve1Temp)
			}
			if got := cmd.Valve2Outlets.String(); got != "56" || cmd.Valve2Temp != 39 {
				t.Errorf("target side = %q,%v want 56,39", got, cmd.Valve2Temp)
			}
		})
	}
}

func TestBuildShowerCommandNeverDropsRunningValve(t *testing.T) {
	// For every desired selector on the target and every non-empty open set
	// on a running other valve, the other side must survive.
	for _, target := range []dtvclient.Valve{dtvclient.Valve1, dtvclient.Valve2} {
		other := target.Other()
		for otherMask := 1; otherMask < 1<<dtvclient.MaxOutlets; otherMask++ {
			info := dtvclient.SystemInfo{
				fmt.Sprintf("valve%d_Currentstatus", int(other)): "On",
			}
			want := dtvclient.NoOutlets
			for n := 1; n <= dtvclient.MaxOutlets; n++ {
				if otherMask&(1<<(n-1)) != 0 {
					info[fmt.Sprintf("valve%doutlet%d", int(other), n)] = true
					want = want.With(n)
				}
			}

			for targetMask := 0; targetMask < 1<<dtvclient.MaxOutlets; targetMask++ {
				desired := dtvclient.OutletSelector(targetMask)
				cmd := BuildShowerCommand(target, desired, 38, info)

				if cmd.Outlets(other) != want {
					t.Fatalf("target %v desired %q: other side = %q, want %q",
						target, desired, cmd.Outlets(other), want)
				}
				if IsFullyClosed(cmd.Valve1Outlets, cmd.Valve2Outlets) {
					t.Fatalf("target %v desired %q: command fully closed", target, desired)
				}
			}
		}
	}
}

func TestOtherValveOutletsRules(t *testing.T) {
	stale := dtvclient.SystemInfo{
		"valve2_Currentstatus": "Off",
		"valve2outlet1":        true,
		"valve2outlet3":        true,
	}
	running := dtvclient.SystemInfo{
		"valve2_Currentstatus": "On",
		"valve2outlet1":        true,
		"valve2outlet3":        true,
	}

	tests := []struct {
		name string
		info dtvclient.SystemInfo
		rule OutletRule
		want string
	}{
		{"unconditional reads stale flags", stale, RuleUnconditional, "13"},
		{"gated ignores stale flags", stale, RuleGatedByRunning, "0"},
		{"unconditional running", running, RuleUnconditional, "13"},
		{"gated running", running, RuleGatedByRunning, "13"},
		{"unconditional nil", nil, RuleUnconditional, "0"},
		{"gated nil", nil, RuleGatedByRunning, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OtherValveOutlets(dtvclient.Valve2, tt.info, tt.rule).String(); got != tt.want {
				t.Errorf("OtherValveOutlets() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsFullyClosed(t *testing.T) {
	tests := []struct {
		v1, v2 string
		want   bool
	}{
		{"0", "0", true},
		{"", "0", true},
		{"1", "0", false},
		{"0", "6", false},
		{"12", "34", false},
	}

	for _, tt := range tests {
		if got := IsFullyClosed(selector(t, tt.v1), selector(t, tt.v2)); got != tt.want {
			t.Errorf("IsFullyClosed(%q, %q) = %v, want %v", tt.v1, tt.v2, got, tt.want)
		}
	}
}

func TestPlanValveOff(t *testing.T) {
	t.Run("other valve running zeroes only target", func(t *testing.T) {
		info := dtvclient.SystemInfo{
			"valve1_Currentstatus": "On",
			"valve1outlet2":        true,
			"valve1Setpoint":       "37.5",
			"valve2_Currentstatus": "On",
			"valve2outlet1":        true,
		}
		plan := PlanValveOff(dtvclient.Valve2, info)
		if plan.Stop {
			t.Fatal("plan is a stop while the other valve runs")
		}
		if got := plan.String(); got != `{valve1:"2",37.5 valve2:"0",100}` {
			t.Errorf("plan = %s", got)
		}
	})

	t.Run("other valve idle stops", func(t *testing.T) {
		info := dtvclient.SystemInfo{
			"valve1_Currentstatus": "Off",
			"valve1outlet2":        true,
		}
		if plan := PlanValveOff(dtvclient.Valve2, info); !plan.Stop {
			t.Errorf("plan = %s, want stop", plan)
		}
	})

	t.Run("no snapshot stops", func(t *testing.T) {
		if plan := PlanValveOff(dtvclient.Valve1, nil); !plan.Stop {
			t.Errorf("plan = %s, want stop", plan)
		}
	})

	t.Run("other valve on without outlets stops", func(t *testing.T) {
		info := dtvclient.SystemInfo{"valve1_Currentstatus": "On"}
		if plan := PlanValveOff(dtvclient.Valve2, info); !plan.Stop {
			t.Errorf("plan = %s, want stop", plan)
		}
	})
}

func TestPlanValve(t *testing.T) {
	if plan := PlanValve(dtvclient.Valve1, dtvclient.NoOutlets, 38, nil); !plan.Stop {
		t.Errorf("empty selector plan = %s, want stop", plan)
	}

	plan := PlanValve(dtvclient.Valve1, selector(t, "12"), 38, nil)
	if plan.Stop {
		t.Fatal("plan is a stop")
	}
	if got := plan.String(); got != `{valve1:"12",38 valve2:"0",100}` {
		t.Errorf("plan = %s", got)
	}
}

func TestPlanOutletToggle(t *testing.T) {
	info := dtvclient.SystemInfo{
		"valve1_Currentstatus": "Off",
		"valve1outlet1":        true,
		"valve1Setpoint":       "39",
		"valve2_Currentstatus": "On",
		"valve2outlet3":        true,
		"valve2Setpoint":       "41",
	}

	tests := []struct {
		name   string
		valve  dtvclient.Valve
		outlet int
		open   bool
		info   dtvclient.SystemInfo
		want   string
	}{
		{"open outlet keeps stale flags on the other valve", dtvclient.Valve2, 4, true, info, `{valve1:"1",39 valve2:"34",41}`},
		{"close outlet", dtvclient.Valve2, 3, false, info, `{valve1:"1",39 valve2:"0",41}`},
		{"open on valve 1", dtvclient.Valve1, 2, true, info, `{valve1:"12",39 valve2:"3",41}`},
		{"no snapshot", dtvclient.Valve1, 5, true, nil, `{valve1:"5",100 valve2:"0",100}`},
		{"last outlet closed", dtvclient.Valve1, 1, false, dtvclient.SystemInfo{"valve1outlet1": true}, "stop"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PlanOutletToggle(tt.valve, tt.outlet, tt.open, tt.info).String(); got != tt.want {
				t.Errorf("PlanOutletToggle() = %s, want %s", got, tt.want)
			}
		})
	}
}
