// Package http exposes the prediction service over JSON HTTP.
package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather2go/internal/observability"
	"github.com/kjstillabower/weather2go/internal/traffic"
)

// RouterConfig carries the middleware dependencies for NewRouter.
type RouterConfig struct {
	Logger         *zap.Logger
	Limiter        *rate.Limiter
	Traffic        *traffic.Tracker
	InFlight       *InFlightTracker
	RequestTimeout time.Duration
}

// NewRouter mounts every route. Responses are gzip-compressed when the client accepts it.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware(cfg.InFlight))
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	api := router.NewRoute().Subrouter()
	api.Use(RateLimitMiddleware(cfg.Limiter, cfg.Traffic))
	if cfg.RequestTimeout > 0 {
		api.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	api.HandleFunc("/locations", h.GetLocations).Methods(http.MethodGet)
	api.HandleFunc("/predictions", h.PostPrediction).Methods(http.MethodPost)
	api.HandleFunc("/predictions/manual", h.PostManualPrediction).Methods(http.MethodPost)
	api.HandleFunc("/predictions/latest", h.GetLatestPrediction).Methods(http.MethodGet)

	return gzhttp.GzipHandler(router)
}
