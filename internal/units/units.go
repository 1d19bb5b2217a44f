// Package units converts provider units (metric) into the units the risk
// classifier was trained on (imperial).
package units

const (
	mmPerInch  = 25.4
	mphPerKph  = 0.621371
	fahrenheit = 9.0 / 5.0
)

func CelsiusToFahrenheit(c float64) float64 {
	return c*fahrenheit + 32
}

func FahrenheitToCelsius(f float64) float64 {
	return (f - 32) / fahrenheit
}

func MillimetersToInches(mm float64) float64 {
	return mm / mmPerInch
}

func InchesToMillimeters(in float64) float64 {
	return in * mmPerInch
}

func KphToMph(kph float64) float64 {
	return kph * mphPerKph
}

func MphToKph(mph float64) float64 {
	return mph / mphPerKph
}
