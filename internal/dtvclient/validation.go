package dtvclient

import "fmt"

const (
	// MaxShowerTemp bounds device-native shower temperatures. It covers both
	// unit spaces; Celsius installations never approach it.
	MaxShowerTemp = 130

	// MaxSteamTemp bounds device-native steam temperatures
	MaxSteamTemp = 130

	// MaxSteamMinutes is the longest steam session the controller accepts
	MaxSteamMinutes = 60
)

// ValidateShowerTemp validates a device-native shower temperature.
// Zero is accepted and means "send the default".
func ValidateShowerTemp(temp float64) error {
	if temp < 0 || temp > MaxShowerTemp {
		return NewValidationError(fmt.Sprintf("shower temperature must be 0-%d, got %g", MaxShowerTemp, temp))
	}
	return nil
}

// ValidateShowerCommand validates both sides of a compound command
func ValidateShowerCommand(cmd ShowerCommand) error {
	if err := ValidateShowerTemp(cmd.Valve1Temp); err != nil {
		return fmt.Errorf("valve 1: %w", err)
	}
	if err := ValidateShowerTemp(cmd.Valve2Temp); err != nil {
		return fmt.Errorf("valve 2: %w", err)
	}
	return nil
}

// ValidatePreset validates a user preset number (1-6)
func ValidatePreset(preset int) error {
	if preset < 1 || preset > MaxPresets {
		return NewValidationError(fmt.Sprintf("preset must be 1-%d, got %d", MaxPresets, preset))
	}
	return nil
}

// ValidateSteam validates a device-native steam temperature and duration
func ValidateSteam(temp float64, minutes int) error {
	if temp <= 0 || temp > MaxSteamTemp {
		return NewValidationError(fmt.Sprintf("steam temperature must be 1-%d, got %g", MaxSteamTemp, temp))
	}
	if minutes < 1 || minutes > MaxSteamMinutes {
		return NewValidationError(fmt.Sprintf("steam time must be 1-%d minutes, got %d", MaxSteamMinutes, minutes))
	}
	return nil
}

// ValidateVolume validates an amplifier volume percentage
func ValidateVolume(volume int) error {
	if volume < 0 || volume > 100 {
		return NewValidationError(fmt.Sprintf("volume must be 0-100, got %d", volume))
	}
	return nil
}

// ValidateLightZone validates a light zone number (1-3)
func ValidateLightZone(zone int) error {
	if zone < 1 || zone > MaxLightZones {
		return NewValidationError(fmt.Sprintf("light zone must be 1-%d, got %d", MaxLightZones, zone))
	}
	return nil
}

// ValidateLevel validates a light brightness level
func ValidateLevel(level int) error {
	if level < 0 || level > 100 {
		return NewValidationError(fmt.Sprintf("light level must be 0-100, got %d", level))
	}
	return nil
}
