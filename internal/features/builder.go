// Package features turns a forecast time slice into the classifier's feature vector.
package features

import (
	"fmt"
	"strings"
	"time"

	"github.com/kjstillabower/weather2go/internal/models"
	"github.com/kjstillabower/weather2go/internal/units"
)

// TimestampLayout is the provider's hourly timestamp format (local time, no offset).
const TimestampLayout = "2006-01-02T15:04"

var timestampLayouts = []string{TimestampLayout, "2006-01-02T15:04:05"}

// ParseTimestamp parses a provider timestamp as wall-clock time. The returned
// time is in UTC only as a container; calendar fields are the location's local values.
func ParseTimestamp(ts string) (time.Time, error) {
	ts = strings.TrimSpace(ts)
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, ts)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// Build converts a sample into a FeatureVector. Humidity passes through unchanged.
func Build(sample models.ForecastSample) (models.FeatureVector, error) {
	t, err := ParseTimestamp(sample.Timestamp)
	if err != nil {
		return models.FeatureVector{}, fmt.Errorf("%w: malformed forecast timestamp %q", models.ErrUpstreamUnavailable, sample.Timestamp)
	}
	return models.FeatureVector{
		WeatherCategory: Categorize(sample.WeatherCode),
		TemperatureF:    units.CelsiusToFahrenheit(sample.TemperatureC),
		HumidityPct:     sample.RelativeHumidityPct,
		WindSpeedMph:    units.KphToMph(sample.WindSpeedKmh),
		PrecipitationIn: units.MillimetersToInches(sample.PrecipitationMM),
		DayOfWeek:       t.Weekday().String(),
		Month:           int(t.Month()),
		Hour:            t.Hour(),
	}, nil
}
