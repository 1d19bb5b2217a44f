package models

import "errors"

// Error taxonomy shared by every stage of the prediction pipeline. Callers wrap
// these with fmt.Errorf("...: %w") at the point of detection and match with errors.Is.
var (
	// ErrInvalidInput covers malformed or out-of-range caller input, such as a
	// requested hour that is not in the forecast window.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUpstreamUnavailable covers network and service failures from the
	// geocoding or forecast providers, including malformed responses.
	ErrUpstreamUnavailable = errors.New("upstream service unavailable")

	// ErrNoMatch means the lookup succeeded but produced nothing usable
	// (for example an empty hourly forecast).
	ErrNoMatch = errors.New("no data")

	// ErrModelCapability means the loaded classifier cannot produce class probabilities.
	ErrModelCapability = errors.New("model cannot produce probabilities")
)
