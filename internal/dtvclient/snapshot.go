package dtvclient

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// SystemInfo is the real-time status snapshot returned by system_info.cgi.
//
// Snapshots are immutable once received: the hub replaces them wholesale on
// every successful poll and never merges them. Accessors never mutate.
type SystemInfo map[string]any

// Values is the configuration snapshot returned by values.cgi: installed
// hardware, port counts, outlet type codes, steam and preset settings.
type Values map[string]any

// ordinals name the outlet slots in values.cgi keys ("one_type", "v2_six_type")
var ordinals = []string{"", "one", "two", "three", "four", "five", "six"}

// MaxLightZones is the number of light zones a lighting module exposes
const MaxLightZones = 3

// MaxPresets is the number of user presets stored on the controller
const MaxPresets = 6

// Preset is a named user preset stored on the controller
type Preset struct {
	ID   int    `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// OutletOpen reports whether the controller flags outlet n of valve v as open.
// The flag reflects wiring assignment and may stay set while the valve is off.
func (s SystemInfo) OutletOpen(v Valve, n int) bool {
	return truthy(s[fmt.Sprintf("valve%doutlet%d", int(v), n)])
}

// OpenOutlets collects the per-outlet flags of valve v into a selector
func (s SystemInfo) OpenOutlets(v Valve) OutletSelector {
	var sel OutletSelector
	for n := 1; n <= MaxOutlets; n++ {
		if s.OutletOpen(v, n) {
			sel = sel.With(n)
		}
	}
	return sel
}

// Running reports whether valve v reports "On" as its current status
func (s SystemInfo) Running(v Valve) bool {
	status, _ := s[fmt.Sprintf("valve%d_Currentstatus", int(v))].(string)
	return status == "On"
}

// AnyRunning reports whether either valve is running
func (s SystemInfo) AnyRunning() bool {
	return s.Running(Valve1) || s.Running(Valve2)
}

// Setpoint returns the device-native setpoint of valve v
func (s SystemInfo) Setpoint(v Valve) (float64, bool) {
	return leadingFloat(s[fmt.Sprintf("valve%dSetpoint", int(v))])
}

// Temperature returns the device-native measured water temperature of valve v
func (s SystemInfo) Temperature(v Valve) (float64, bool) {
	return leadingFloat(s[fmt.Sprintf("valve%dTemp", int(v))])
}

// Fahrenheit reports whether the controller works in Fahrenheit
func (s SystemInfo) Fahrenheit() bool {
	symbol, _ := s["degree_symbol"].(string)
	return strings.Contains(symbol, "F")
}

// ToCelsius converts a device-native temperature field to Celsius
func (s SystemInfo) ToCelsius(raw any) (float64, bool) {
	value, ok := leadingFloat(raw)
	if !ok {
		return 0, false
	}
	return ToLogical(value, s.Fahrenheit()), true
}

// FromCelsius converts a Celsius temperature to the controller's unit
func (s SystemInfo) FromCelsius(celsius float64) float64 {
	return ToDevice(celsius, s.Fahrenheit())
}

// Volume returns the amplifier volume percentage from volStatus ("50%")
func (s SystemInfo) Volume() (int, bool) {
	raw, ok := s["volStatus"].(string)
	if !ok {
		return 0, false
	}
	return leadingInt(raw)
}

// LightOn returns the reported on state of a light zone, when the controller
// includes one in the snapshot.
func (s SystemInfo) LightOn(zone int) (bool, bool) {
	raw, ok := s[fmt.Sprintf("light%d_status", zone)]
	if !ok {
		return false, false
	}
	if status, isString := raw.(string); isString {
		return strings.EqualFold(status, "On"), true
	}
	return truthy(raw), true
}

// ValveInstalled reports whether valve v is installed
func (v Values) ValveInstalled(valve Valve) bool {
	return truthy(v[fmt.Sprintf("valve%d_installed", int(valve))])
}

// PortsAvailable returns the outlet port count of a valve, or def when the
// controller does not report a usable number.
func (v Values) PortsAvailable(valve Valve, def int) int {
	n, ok := leadingInt(v[fmt.Sprintf("valve%dPortsAvailable", int(valve))])
	if !ok || n <= 0 {
		return def
	}
	if n > MaxOutlets {
		return MaxOutlets
	}
	return n
}

// ValveName returns the user-assigned valve name, if any
func (v Values) ValveName(valve Valve) string {
	name, _ := v[fmt.Sprintf("valve%d_name", int(valve))].(string)
	return name
}

// OutletType returns the raw type string ("outlet_23") of outlet n on a valve
func (v Values) OutletType(valve Valve, n int) string {
	if n < 1 || n > MaxOutlets {
		return ""
	}
	prefix := ""
	if valve == Valve2 {
		prefix = "v2_"
	}
	typ, _ := v[prefix+ordinals[n]+"_type"].(string)
	return typ
}

// OutletHasMassage reports whether outlet n on a valve supports massage mode
func (v Values) OutletHasMassage(valve Valve, n int) bool {
	if n < 1 || n > MaxOutlets {
		return false
	}
	prefix := ""
	if valve == Valve2 {
		prefix = "v2_"
	}
	return truthy(v[prefix+ordinals[n]+"_massage"])
}

// SteamInstalled reports whether a steam generator is installed
func (v Values) SteamInstalled() bool {
	return truthy(v["steam_installed"])
}

// SteamRunning reports whether steam is running. The controller reports this
// as a boolean, a number or a string depending on firmware.
func (v Values) SteamRunning() bool {
	switch raw := v["steam_running"].(type) {
	case bool:
		return raw
	case float64:
		return raw == 1
	case string:
		return raw == "true" || raw == "1"
	default:
		return false
	}
}

// DefaultSteamTemp returns the controller's default steam temperature
func (v Values) DefaultSteamTemp() (float64, bool) {
	return leadingFloat(v["steam_default_string_temp"])
}

// LightingConnected reports whether a lighting module is connected
func (v Values) LightingConnected() bool {
	status, _ := v["lighting_con_string"].(string)
	return status == "conn"
}

// LightName returns the user-assigned name of a light zone, if any
func (v Values) LightName(zone int) string {
	name, _ := v[fmt.Sprintf("light%d_name", zone)].(string)
	return name
}

// MAC returns the controller's MAC address, if reported
func (v Values) MAC() string {
	mac, _ := v["MAC"].(string)
	return mac
}

// Presets returns the named user presets (1-6) in order
func (v Values) Presets() []Preset {
	presets := []Preset{}
	for i := 1; i <= MaxPresets; i++ {
		name, _ := v[fmt.Sprintf("user_%d", i)].(string)
		if name == "" {
			name, _ = v[fmt.Sprintf("user%d_string", i)].(string)
		}
		if name != "" {
			presets = append(presets, Preset{ID: i, Name: name})
		}
	}
	return presets
}

// truthy mirrors how the controller's flags are meant to be read: booleans
// as-is, non-zero numbers, and strings other than "", "0" and "false".
func truthy(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case int:
		return v != 0
	case string:
		return v != "" && v != "0" && !strings.EqualFold(v, "false")
	default:
		return true
	}
}

var (
	leadingFloatPattern = regexp.MustCompile(`^\s*[-+]?(\d+\.?\d*|\.\d+)`)
	leadingIntPattern   = regexp.MustCompile(`^\s*[-+]?\d+`)
)

// leadingFloat reads a number from a JSON value. Strings are parsed from
// their numeric prefix, so "38.5°" and "38.5" both yield 38.5.
func leadingFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		m := leadingFloatPattern.FindString(v)
		if m == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(m), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// leadingInt reads an integer from a JSON value the same way; floats truncate.
func leadingInt(raw any) (int, bool) {
	switch v := raw.(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case string:
		m := leadingIntPattern.FindString(v)
		if m == "" {
			return 0, false
		}
		n, err := strconv.Atoi(strings.TrimSpace(m))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
