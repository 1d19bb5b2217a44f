// Package classifier loads the trained road-risk model and runs inference.
//
// Two backends exist: a JSON export of the random forest evaluated in-process
// (Load) and an HTTP scoring sidecar that hosts the serialized training artifact
// (NewRemote). Both are loaded once at startup; a failed load is fatal.
package classifier

import (
	"context"
	"errors"

	"github.com/kjstillabower/weather2go/internal/models"
)

// ErrInvalidArtifact is returned when a model artifact cannot be used with
// the feature schema.
var ErrInvalidArtifact = errors.New("invalid model artifact")

// Model is a loaded classifier. Classes are ordered from lowest to highest
// risk. A Model that is not also a ProbabilisticModel cannot be scored.
type Model interface {
	Name() string
	Classes() []string
}

// ProbabilisticModel returns, per row, a distribution over Classes().
type ProbabilisticModel interface {
	Model
	PredictProba(ctx context.Context, rows []models.FeatureVector) ([][]float64, error)
}

// SupportsProba reports whether m can produce class probabilities.
func SupportsProba(m Model) bool {
	_, ok := m.(ProbabilisticModel)
	return ok
}
