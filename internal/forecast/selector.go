// Package forecast picks the hourly slice a prediction is made for.
package forecast

import (
	"fmt"
	"slices"
	"time"

	"github.com/kjstillabower/weather2go/internal/models"
)

const dateLayout = "2006-01-02"

// Selection chooses a forecast hour: the earliest available one, or an exact
// local date and hour.
type Selection struct {
	NextAvailable bool
	Date          string
	Hour          int
}

// NextAvailable selects the first hour of the forecast.
func NextAvailable() Selection {
	return Selection{NextAvailable: true}
}

// At selects date (YYYY-MM-DD) at hour:00 local time.
func At(date string, hour int) Selection {
	return Selection{Date: date, Hour: hour}
}

// TargetTimestamp renders the provider timestamp for an explicit selection.
func (s Selection) TargetTimestamp() (string, error) {
	if _, err := time.Parse(dateLayout, s.Date); err != nil {
		return "", fmt.Errorf("%w: date %q must be YYYY-MM-DD", models.ErrInvalidInput, s.Date)
	}
	if s.Hour < 0 || s.Hour > 23 {
		return "", fmt.Errorf("%w: hour %d must be between 0 and 23", models.ErrInvalidInput, s.Hour)
	}
	return fmt.Sprintf("%sT%02d:00", s.Date, s.Hour), nil
}

// Select returns the index and timestamp in times matching sel. Explicit
// selections match by exact string equality; there is no nearest-hour fallback.
func Select(times []string, sel Selection) (int, string, error) {
	if len(times) == 0 {
		return 0, "", fmt.Errorf("%w: no hourly data available", models.ErrNoMatch)
	}
	if sel.NextAvailable {
		return 0, times[0], nil
	}

	target, err := sel.TargetTimestamp()
	if err != nil {
		return 0, "", err
	}
	idx := slices.Index(times, target)
	if idx < 0 {
		return 0, "", fmt.Errorf("%w: requested hour outside available forecast range (%s)", models.ErrInvalidInput, target)
	}
	return idx, target, nil
}
