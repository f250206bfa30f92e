package dtvclient

import "math"

// DefaultShowerTemp is sent for a valve side that has no temperature of its
// own. It is also the value the controller reports for an idle valve.
const DefaultShowerTemp = 100

// FahrenheitToCelsius converts and rounds to one decimal place
func FahrenheitToCelsius(f float64) float64 {
	return math.Round((f-32)*5/9*10) / 10
}

// CelsiusToFahrenheit converts and rounds to a whole degree
func CelsiusToFahrenheit(c float64) float64 {
	return math.Round(c*9/5 + 32)
}

// ToLogical converts a device-native temperature to Celsius.
// Celsius controllers pass values through unchanged.
func ToLogical(native float64, fahrenheit bool) float64 {
	if fahrenheit {
		return FahrenheitToCelsius(native)
	}
	return native
}

// ToDevice converts a Celsius temperature to the controller's native unit
func ToDevice(celsius float64, fahrenheit bool) float64 {
	if fahrenheit {
		return CelsiusToFahrenheit(celsius)
	}
	return celsius
}
