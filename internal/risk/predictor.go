package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather2go/internal/classifier"
	"github.com/kjstillabower/weather2go/internal/models"
)

// Prediction is the classifier's view of one feature vector.
type Prediction struct {
	HighRiskProbability float64
	HighRiskClass       string
	Classes             []string
	Probabilities       []float64
}

// Predictor extracts the high-risk class probability from a classifier.
type Predictor struct {
	model     classifier.Model
	classes   []string
	highIndex int
}

// NewPredictor binds model to the class treated as high risk. An empty
// highRiskClass selects the last class, which assumes classes are ordered
// from lowest to highest risk.
func NewPredictor(model classifier.Model, highRiskClass string, logger *zap.Logger) (*Predictor, error) {
	if model == nil {
		return nil, errors.New("risk predictor: nil model")
	}
	classes := model.Classes()
	if len(classes) == 0 {
		return nil, fmt.Errorf("risk predictor: model %s has no classes", model.Name())
	}

	idx := len(classes) - 1
	if highRiskClass != "" {
		idx = slices.Index(classes, highRiskClass)
		if idx < 0 {
			return nil, fmt.Errorf("risk predictor: high-risk class %q not in model classes %v", highRiskClass, classes)
		}
	} else if logger != nil {
		logger.Warn("high-risk class not configured, using last model class",
			zap.String("model", model.Name()),
			zap.String("class", classes[idx]),
			zap.Strings("classes", classes),
		)
	}

	if logger != nil && !classifier.SupportsProba(model) {
		logger.Warn("model does not support probabilities; predictions will fail",
			zap.String("model", model.Name()),
		)
	}

	return &Predictor{model: model, classes: classes, highIndex: idx}, nil
}

// SupportsProba reports whether predictions can succeed at all.
func (p *Predictor) SupportsProba() bool {
	return classifier.SupportsProba(p.model)
}

// ModelName identifies the loaded model.
func (p *Predictor) ModelName() string {
	return p.model.Name()
}

// Predict scores one feature vector. A model without probability output
// yields ErrModelCapability; no fallback to hard labels is attempted.
func (p *Predictor) Predict(ctx context.Context, fv models.FeatureVector) (Prediction, error) {
	pm, ok := p.model.(classifier.ProbabilisticModel)
	if !ok {
		return Prediction{}, fmt.Errorf("%w: %s", models.ErrModelCapability, p.model.Name())
	}

	probs, err := pm.PredictProba(ctx, []models.FeatureVector{fv})
	if err != nil {
		return Prediction{}, fmt.Errorf("predict proba: %w", err)
	}
	if len(probs) != 1 || len(probs[0]) != len(p.classes) {
		return Prediction{}, fmt.Errorf("predict proba: unexpected output shape for %d classes", len(p.classes))
	}
	dist := probs[0]
	high := dist[p.highIndex]
	if math.IsNaN(high) || high < 0 || high > 1 {
		return Prediction{}, fmt.Errorf("predict proba: %w: %v", ErrProbabilityOutOfRange, high)
	}

	return Prediction{
		HighRiskProbability: high,
		HighRiskClass:       p.classes[p.highIndex],
		Classes:             slices.Clone(p.classes),
		Probabilities:       slices.Clone(dist),
	}, nil
}
