package devices

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/muurk/dtvplus/internal/dtvclient"
)

// Capability names, as exposed over the HTTP API and MQTT
const (
	CapOnOff              = "onoff"
	CapTargetTemperature  = "target_temperature"
	CapMeasureTemperature = "measure_temperature"
	CapVolume             = "volume"
	CapLevel              = "level"
	CapShowerRunning      = "shower_running"
	CapSteamRunning       = "steam_running"
	CapPreset             = "preset"
	CapPresets            = "presets"
	CapStopAll            = "stop_all"
)

// outletCapabilityPrefix prefixes per-outlet toggles ("outlet.3")
const outletCapabilityPrefix = "outlet."

// ErrUnknownCapability is returned by Set for a capability the device lacks
// or cannot write.
var ErrUnknownCapability = errors.New("unknown capability")

// OutletCapability names the toggle for outlet n
func OutletCapability(n int) string {
	return outletCapabilityPrefix + strconv.Itoa(n)
}

// parseOutletCapability returns n for "outlet.n"
func parseOutletCapability(capability string) (int, bool) {
	rest, ok := strings.CutPrefix(capability, outletCapabilityPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 || n > dtvclient.MaxOutlets {
		return 0, false
	}
	return n, true
}

// State maps capability names to their current values
type State map[string]any

// Clone returns a shallow copy. Values are scalars or immutable slices.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

func unknownCapability(kind, capability string) error {
	return fmt.Errorf("%w %q for %s", ErrUnknownCapability, capability, kind)
}

func coercionError(capability string, value any, want string) error {
	return dtvclient.NewValidationError(fmt.Sprintf("%s: cannot use %v (%T) as %s", capability, value, value, want))
}

// toBool accepts booleans, numbers and the usual on/off words
func toBool(capability string, value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case float64:
		return v != 0, nil
	case int:
		return v != 0, nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return false, coercionError(capability, value, "boolean")
		}
		return f != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "on", "1", "yes":
			return true, nil
		case "false", "off", "0", "no":
			return false, nil
		}
	}
	return false, coercionError(capability, value, "boolean")
}

// toFloat accepts numbers and numeric strings
func toFloat(capability string, value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			break
		}
		return v, nil
	case int:
		return float64(v), nil
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f, nil
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f, nil
		}
	}
	return 0, coercionError(capability, value, "number")
}

// toInt accepts numbers, rounding fractions, and integer strings
func toInt(capability string, value any) (int, error) {
	f, err := toFloat(capability, value)
	if err != nil {
		return 0, coercionError(capability, value, "integer")
	}
	return int(math.Round(f)), nil
}
