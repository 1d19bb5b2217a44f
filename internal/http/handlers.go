package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather2go/internal/forecast"
	"github.com/kjstillabower/weather2go/internal/geo"
	"github.com/kjstillabower/weather2go/internal/lifecycle"
	"github.com/kjstillabower/weather2go/internal/models"
	"github.com/kjstillabower/weather2go/internal/observability"
	"github.com/kjstillabower/weather2go/internal/risk"
	"github.com/kjstillabower/weather2go/internal/service"
	"github.com/kjstillabower/weather2go/internal/traffic"
	"github.com/kjstillabower/weather2go/internal/validation"
)

const maxBodyBytes = 64 << 10

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	Window           time.Duration
	DegradedErrorPct int
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
	Version   string
}

// QueryLimits bounds the place-name query length in runes.
type QueryLimits struct {
	MinLength int
	MaxLength int
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	svc          *service.PredictionService
	lifecycle    *lifecycle.Lifecycle
	traffic      *traffic.Tracker
	healthConfig *HealthConfig
	limits       QueryLimits
	logger       *zap.Logger
	clock        clockwork.Clock

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. healthConfig may be nil.
func NewHandler(
	svc *service.PredictionService,
	lc *lifecycle.Lifecycle,
	tracker *traffic.Tracker,
	healthConfig *HealthConfig,
	limits QueryLimits,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limits.MinLength <= 0 {
		limits.MinLength = 1
	}
	if limits.MaxLength <= 0 {
		limits.MaxLength = 100
	}
	return &Handler{
		svc:          svc,
		lifecycle:    lc,
		traffic:      tracker,
		healthConfig: healthConfig,
		limits:       limits,
		logger:       logger,
		clock:        clockwork.NewRealClock(),
	}
}

type locationView struct {
	models.Location
	Label string `json:"label"`
}

type locationsResponse struct {
	Query     string         `json:"query"`
	Lookup    string         `json:"lookup"`
	Region    string         `json:"region"`
	Count     int            `json:"count"`
	Locations []locationView `json:"locations"`
}

// GetLocations handles GET /locations?q={place}.
func (h *Handler) GetLocations(w http.ResponseWriter, r *http.Request) {
	query, err := validation.ValidateQuery(r.URL.Query().Get("q"), h.limits.MinLength, h.limits.MaxLength)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	locs, err := h.svc.Search(r.Context(), query)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	region := h.svc.Region()
	lookup, _ := geo.LookupName(query)
	views := make([]locationView, 0, len(locs))
	for _, l := range locs {
		views = append(views, locationView{Location: l, Label: l.Label(region.Abbreviation)})
	}
	h.recordSuccess()
	writeJSON(w, http.StatusOK, locationsResponse{
		Query:     query,
		Lookup:    lookup,
		Region:    region.Name,
		Count:     len(views),
		Locations: views,
	})
}

type predictionRequest struct {
	Location      *models.Location `json:"location" validate:"required"`
	NextAvailable bool             `json:"nextAvailable"`
	Date          string           `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Hour          int              `json:"hour" validate:"gte=0,lte=23"`
}

func (p predictionRequest) selection() (forecast.Selection, error) {
	if p.NextAvailable {
		return forecast.NextAvailable(), nil
	}
	if p.Date == "" {
		return forecast.Selection{}, fmt.Errorf("%w: date is required unless nextAvailable is set", models.ErrInvalidInput)
	}
	return forecast.At(p.Date, p.Hour), nil
}

type predictionResponse struct {
	models.PredictionResult
	Advice         []string `json:"advice"`
	InsuranceNotes []string `json:"insuranceNotes"`
}

func newPredictionResponse(res models.PredictionResult) predictionResponse {
	return predictionResponse{
		PredictionResult: res,
		Advice:           risk.Advice(res.RiskBucket),
		InsuranceNotes:   risk.InsuranceNotes,
	}
}

// PostPrediction handles POST /predictions.
func (h *Handler) PostPrediction(w http.ResponseWriter, r *http.Request) {
	var req predictionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if err := validation.Struct(req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	sel, err := req.selection()
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	res, err := h.svc.Predict(r.Context(), *req.Location, sel)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.recordSuccess()
	writeJSON(w, http.StatusOK, newPredictionResponse(res))
}

// PostManualPrediction handles POST /predictions/manual with a raw feature vector.
func (h *Handler) PostManualPrediction(w http.ResponseWriter, r *http.Request) {
	var fv models.FeatureVector
	if err := decodeJSON(w, r, &fv); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	res, err := h.svc.PredictManual(r.Context(), fv)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.recordSuccess()
	writeJSON(w, http.StatusOK, newPredictionResponse(res))
}

// GetLatestPrediction handles GET /predictions/latest.
func (h *Handler) GetLatestPrediction(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Latest()
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPredictionResponse(res))
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"model": "healthy", "upstream": "healthy"}
	if !h.svc.ModelReady() {
		checks["model"] = "unhealthy"
	}
	if result.reason == "error_rate_breach" {
		checks["upstream"] = "unhealthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	version := "dev"
	if h.healthConfig != nil && h.healthConfig.Version != "" {
		version = h.healthConfig.Version
	}
	resp := map[string]any{
		"status":  result.status,
		"service": "weather2go",
		"version": version,
		"model": map[string]any{
			"name":          h.svc.ModelName(),
			"supportsProba": h.svc.ModelReady(),
		},
		"region":    h.svc.Region().Name,
		"checks":    checks,
		"timestamp": h.clock.Now().UTC().Format(time.RFC3339),
	}
	if h.traffic != nil {
		resp["requestsInWindow"] = h.traffic.RequestCount(h.window())
	}
	writeJSON(w, result.statusCode, resp)
}

func (h *Handler) window() time.Duration {
	if h.healthConfig != nil && h.healthConfig.Window > 0 {
		return h.healthConfig.Window
	}
	return time.Minute
}

// computeHealthStatus evaluates, in priority order: shutting-down > starting >
// model unable to score > upstream error rate > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if h.lifecycle != nil {
		switch h.lifecycle.State() {
		case lifecycle.StateDraining:
			return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
		case lifecycle.StateStarting:
			return healthResult{"starting", http.StatusServiceUnavailable, "startup"}
		}
	}
	if !h.svc.ModelReady() {
		return healthResult{"degraded", http.StatusServiceUnavailable, "model_capability"}
	}
	if h.healthConfig != nil && h.traffic != nil && h.healthConfig.DegradedErrorPct > 0 {
		errs, total := h.traffic.ErrorRate(h.window())
		if total > 0 && float64(errs)*100/float64(total) >= float64(h.healthConfig.DegradedErrorPct) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

func (h *Handler) recordSuccess() {
	if h.traffic != nil {
		h.traffic.RecordSuccess()
	}
}

// decodeJSON reads a bounded JSON body, rejecting unknown fields and trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: request body: %v", models.ErrInvalidInput, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: request body has trailing data", models.ErrInvalidInput)
	}
	return nil
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// writeServiceError maps the error taxonomy to a status and code. Caller
// input problems are not counted against the upstream error rate.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	logger := observability.LoggerFromContext(r.Context(), h.logger)
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	case errors.Is(err, models.ErrNoMatch):
		writeError(w, r, http.StatusNotFound, "NO_DATA", err.Error())
		return
	}

	if h.traffic != nil {
		h.traffic.RecordError()
	}
	switch {
	case errors.Is(err, models.ErrUpstreamUnavailable):
		logger.Debug("upstream error", zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Weather or geocoding service unavailable, try again later")
	case errors.Is(err, models.ErrModelCapability):
		logger.Error("model cannot score", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "MODEL_CAPABILITY", "The loaded model does not support probability predictions")
	default:
		logger.Error("request failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Internal error")
	}
}
