package ui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/dtvplus/internal/dtvclient"
)

// ValveStatus is one valve as shown in the status panel
type ValveStatus struct {
	Valve    dtvclient.Valve
	Name     string
	Running  bool
	Temp     string
	Setpoint string
	Outlets  []string
}

// LightStatus is one light zone
type LightStatus struct {
	Zone     int
	Name     string
	On       bool
	Reported bool
}

// Status is a controller's snapshot pair reduced to what the status panel
// shows. Temperatures stay in the controller's own unit.
type Status struct {
	Address        string
	MAC            string
	Unit           string
	Valves         []ValveStatus
	SteamInstalled bool
	SteamRunning   bool
	Volume         string
	Lights         []LightStatus
	Presets        []dtvclient.Preset
}

// BuildStatus reduces snapshots to a Status. Either snapshot may be nil.
func BuildStatus(address string, info dtvclient.SystemInfo, values dtvclient.Values) Status {
	st := Status{
		Address: address,
		MAC:     values.MAC(),
		Unit:    "°C",
		Volume:  noValue,
	}
	if info.Fahrenheit() {
		st.Unit = "°F"
	}

	for _, v := range []dtvclient.Valve{dtvclient.Valve1, dtvclient.Valve2} {
		if values != nil && !values.ValveInstalled(v) && !info.Running(v) {
			continue
		}
		vs := ValveStatus{
			Valve:    v,
			Name:     values.ValveName(v),
			Running:  info.Running(v),
			Temp:     reading(info.Temperature(v)),
			Setpoint: reading(info.Setpoint(v)),
		}
		if vs.Name == "" {
			vs.Name = "Valve " + strconv.Itoa(int(v))
		}
		if vs.Running {
			for _, n := range info.OpenOutlets(v).Outlets() {
				vs.Outlets = append(vs.Outlets, outletLabel(values, v, n))
			}
		}
		st.Valves = append(st.Valves, vs)
	}

	st.SteamInstalled = values.SteamInstalled()
	st.SteamRunning = values.SteamRunning()

	if vol, ok := info.Volume(); ok {
		st.Volume = strconv.Itoa(vol) + "%"
	}

	if values.LightingConnected() {
		for zone := 1; zone <= dtvclient.MaxLightZones; zone++ {
			on, reported := info.LightOn(zone)
			name := values.LightName(zone)
			if name == "" {
				name = "Light Zone " + strconv.Itoa(zone)
			}
			st.Lights = append(st.Lights, LightStatus{Zone: zone, Name: name, On: on, Reported: reported})
		}
	}

	if values != nil {
		st.Presets = values.Presets()
	}
	return st
}

func reading(value float64, ok bool) string {
	if !ok {
		return noValue
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

func outletLabel(values dtvclient.Values, v dtvclient.Valve, n int) string {
	label := strconv.Itoa(n)
	if typ := values.OutletType(v, n); typ != "" {
		label += " " + dtvclient.OutletTypeName(typ)
	}
	return label
}

func onOff(on bool) string {
	if on {
		return RunningStyle.Render(MarkerOn + " On")
	}
	return IdleStyle.Render(MarkerOff + " Off")
}

// RenderStatus renders the status panel
func RenderStatus(st Status, width int) string {
	width = ClampWidth(width)

	title := "Controller " + st.Address
	if st.MAC != "" {
		title += "  " + IdleStyle.Render(st.MAC)
	}
	lines := []string{SectionTitleStyle.Render(title), ""}

	lines = append(lines, SectionTitleStyle.Render("Shower"))
	if len(st.Valves) == 0 {
		lines = append(lines, IdleStyle.Render("  no valves reported"))
	}
	for _, v := range st.Valves {
		line := fmt.Sprintf("  %-18s %s  %s%s (set %s%s)", v.Name, onOff(v.Running), v.Temp, st.Unit, v.Setpoint, st.Unit)
		lines = append(lines, line)
		if len(v.Outlets) > 0 {
			lines = append(lines, IdleStyle.Render("    outlets: "+strings.Join(v.Outlets, ", ")))
		}
	}

	if st.SteamInstalled {
		steam := IdleStyle.Render(MarkerOff + " Off")
		if st.SteamRunning {
			steam = SteamStyle.Render(MarkerOn + " Steaming")
		}
		lines = append(lines, "", SectionTitleStyle.Render("Steam"), "  "+steam)
	}

	lines = append(lines, "", SectionTitleStyle.Render("Music"), "  volume "+st.Volume)

	if len(st.Lights) > 0 {
		lines = append(lines, "", SectionTitleStyle.Render("Lights"))
		for _, l := range st.Lights {
			state := IdleStyle.Render(noValue)
			if l.Reported {
				state = onOff(l.On)
			}
			lines = append(lines, fmt.Sprintf("  %-18s %s", l.Name, state))
		}
	}

	if len(st.Presets) > 0 {
		var names []string
		for _, p := range st.Presets {
			names = append(names, fmt.Sprintf("%d %s", p.ID, p.Name))
		}
		lines = append(lines, "", SectionTitleStyle.Render("Presets"), "  "+strings.Join(names, "  "))
	}

	return StatusBoxStyle(width).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}
