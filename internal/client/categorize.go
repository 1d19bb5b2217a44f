package client

import (
	"context"
	"errors"
	"strings"

	"github.com/kjstillabower/weather2go/internal/circuitbreaker"
	"github.com/kjstillabower/weather2go/internal/models"
)

// ErrorCategory is a stable label for error classification in metrics.
type ErrorCategory string

// Error category constants used as metric labels (upstreamApiErrorsTotal, predictionErrorsTotal).
const (
	ErrorCategoryTimeout         ErrorCategory = "timeout"
	ErrorCategoryNetwork         ErrorCategory = "network"
	ErrorCategoryRateLimited     ErrorCategory = "rate_limited"
	ErrorCategoryUpstream5xx     ErrorCategory = "upstream_5xx"
	ErrorCategoryClient4xx       ErrorCategory = "client_4xx"
	ErrorCategoryParsing         ErrorCategory = "parsing"
	ErrorCategoryCircuitOpen     ErrorCategory = "circuit_open"
	ErrorCategoryNoMatch         ErrorCategory = "no_match"
	ErrorCategoryInvalidInput    ErrorCategory = "invalid_input"
	ErrorCategoryModelCapability ErrorCategory = "model_capability"
	ErrorCategoryUnknown         ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory for metrics.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrorCategoryTimeout
	case errors.Is(err, circuitbreaker.ErrOpen):
		return ErrorCategoryCircuitOpen
	case errors.Is(err, ErrRateLimited):
		return ErrorCategoryRateLimited
	case errors.Is(err, ErrUpstreamFailure):
		return ErrorCategoryUpstream5xx
	case errors.Is(err, ErrClientError):
		return ErrorCategoryClient4xx
	case errors.Is(err, ErrMalformedResponse):
		return ErrorCategoryParsing
	case errors.Is(err, models.ErrModelCapability):
		return ErrorCategoryModelCapability
	case errors.Is(err, models.ErrInvalidInput):
		return ErrorCategoryInvalidInput
	case errors.Is(err, models.ErrNoMatch):
		return ErrorCategoryNoMatch
	}

	errStr := err.Error()
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "no such host") {
		return ErrorCategoryNetwork
	}
	if strings.Contains(errStr, "timeout") {
		return ErrorCategoryTimeout
	}
	if strings.Contains(errStr, "parse") || strings.Contains(errStr, "unmarshal") {
		return ErrorCategoryParsing
	}
	if errors.Is(err, models.ErrUpstreamUnavailable) {
		return ErrorCategoryNetwork
	}
	return ErrorCategoryUnknown
}
