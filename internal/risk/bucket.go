// Package risk turns classifier output into a driving-risk bucket and the
// advice shown alongside it.
package risk

import (
	"errors"
	"fmt"
	"math"

	"github.com/kjstillabower/weather2go/internal/models"
)

// ErrProbabilityOutOfRange is returned by Bucket for values outside [0,1] or NaN.
var ErrProbabilityOutOfRange = errors.New("probability out of range")

// thresholds are the lower bounds of each bucket above Low, in ascending order.
var thresholds = []struct {
	min    float64
	bucket models.RiskBucket
}{
	{0.8, models.RiskSevere},
	{0.6, models.RiskHeavy},
	{0.4, models.RiskModerate},
	{0.2, models.RiskModerateLow},
}

// Bucket maps a high-risk probability to its bucket. Ranges are half-open on
// the low end: [0,0.2) Low, [0.2,0.4) Moderate-Low, [0.4,0.6) Moderate,
// [0.6,0.8) Heavy, [0.8,1] Severe.
func Bucket(p float64) (models.RiskBucket, error) {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return "", fmt.Errorf("%w: %v", ErrProbabilityOutOfRange, p)
	}
	for _, t := range thresholds {
		if p >= t.min {
			return t.bucket, nil
		}
	}
	return models.RiskLow, nil
}
