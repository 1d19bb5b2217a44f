package models

import "time"

// RiskBucket is one of five ordered driving-risk labels.
type RiskBucket string

const (
	RiskLow         RiskBucket = "Low"
	RiskModerateLow RiskBucket = "Moderate-Low"
	RiskModerate    RiskBucket = "Moderate"
	RiskHeavy       RiskBucket = "Heavy"
	RiskSevere      RiskBucket = "Severe"
)

// RiskBuckets lists the buckets from lowest to highest risk.
var RiskBuckets = []RiskBucket{RiskLow, RiskModerateLow, RiskModerate, RiskHeavy, RiskSevere}

// PredictionResult is the outcome of one prediction run. It is immutable once built.
type PredictionResult struct {
	ID                  string        `json:"id"`
	PickedTime          string        `json:"pickedTime,omitempty"`
	Location            *Location     `json:"location,omitempty"`
	Features            FeatureVector `json:"features"`
	HighRiskProbability float64       `json:"highRiskProbability"`
	RiskBucket          RiskBucket    `json:"riskBucket"`
	HighRiskClass       string        `json:"highRiskClass"`
	Classes             []string      `json:"classes"`
	Probabilities       []float64     `json:"probabilities"`
	PredictedAt         time.Time     `json:"predictedAt"`
}
