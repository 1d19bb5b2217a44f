package models

import (
	"fmt"
	"time"
)

// HourlySeries mirrors the provider's hourly block. All arrays are index-aligned
// with Time; numeric entries are nullable because the provider emits null for
// hours it has no value for.
type HourlySeries struct {
	Time               []string   `json:"time"`
	Temperature2m      []*float64 `json:"temperature_2m"`
	RelativeHumidity2m []*float64 `json:"relative_humidity_2m"`
	Precipitation      []*float64 `json:"precipitation"`
	WindSpeed10m       []*float64 `json:"wind_speed_10m"`
	WeatherCode        []*int     `json:"weather_code"`
}

// Aligned reports an error when any value array differs in length from Time.
func (s HourlySeries) Aligned() error {
	n := len(s.Time)
	lengths := []struct {
		field string
		n     int
	}{
		{"temperature_2m", len(s.Temperature2m)},
		{"relative_humidity_2m", len(s.RelativeHumidity2m)},
		{"precipitation", len(s.Precipitation)},
		{"wind_speed_10m", len(s.WindSpeed10m)},
		{"weather_code", len(s.WeatherCode)},
	}
	for _, l := range lengths {
		if l.n != n {
			return fmt.Errorf("%w: hourly %s has %d entries, time has %d", ErrUpstreamUnavailable, l.field, l.n, n)
		}
	}
	return nil
}

// HourlyForecast is one forecast response for a coordinate, in the location's local time.
type HourlyForecast struct {
	Latitude  float64      `json:"latitude"`
	Longitude float64      `json:"longitude"`
	Timezone  string       `json:"timezone"`
	Hourly    HourlySeries `json:"hourly"`
	FetchedAt time.Time    `json:"fetchedAt"`
}

// ForecastSample is one forecast time slice in provider units.
type ForecastSample struct {
	Timestamp           string  `json:"timestamp"`
	TemperatureC        float64 `json:"temperatureC"`
	RelativeHumidityPct float64 `json:"relativeHumidityPct"`
	PrecipitationMM     float64 `json:"precipitationMm"`
	WindSpeedKmh        float64 `json:"windSpeedKmh"`
	WeatherCode         int     `json:"weatherCode"`
}

// Sample extracts the slice at index i. Null provider values are reported as ErrNoMatch.
func (f HourlyForecast) Sample(i int) (ForecastSample, error) {
	h := f.Hourly
	if i < 0 || i >= len(h.Time) {
		return ForecastSample{}, fmt.Errorf("%w: forecast index %d out of range", ErrInvalidInput, i)
	}
	temp, ok1 := valueAt(h.Temperature2m, i)
	rh, ok2 := valueAt(h.RelativeHumidity2m, i)
	precip, ok3 := valueAt(h.Precipitation, i)
	wind, ok4 := valueAt(h.WindSpeed10m, i)
	code, ok5 := valueAt(h.WeatherCode, i)
	if !(ok1 && ok2 && ok3 && ok4 && ok5) {
		return ForecastSample{}, fmt.Errorf("%w: forecast values missing for %s", ErrNoMatch, h.Time[i])
	}
	return ForecastSample{
		Timestamp:           h.Time[i],
		TemperatureC:        temp,
		RelativeHumidityPct: rh,
		PrecipitationMM:     precip,
		WindSpeedKmh:        wind,
		WeatherCode:         code,
	}, nil
}

func valueAt[T any](s []*T, i int) (T, bool) {
	var zero T
	if i >= len(s) || s[i] == nil {
		return zero, false
	}
	return *s[i], true
}
