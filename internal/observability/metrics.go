package observability

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation.
	HTTPRequestsInFlight prometheus.Gauge

	// Geocoding and forecast API calls by api (geocoding|forecast) and status.
	UpstreamAPICallsTotal *prometheus.CounterVec

	// Upstream latency per attempt. Watch for: p95 approaching the request timeout.
	UpstreamAPIDuration *prometheus.HistogramVec

	// Retry attempts per api. Watch for: high retries = unstable upstream.
	UpstreamAPIRetriesTotal *prometheus.CounterVec

	// Upstream failures by api and error category (see client.CategorizeError).
	UpstreamAPIErrorsTotal *prometheus.CounterVec

	// 0 closed, 1 half-open, 2 open, per guarded upstream.
	CircuitBreakerState *prometheus.GaugeVec

	// Forecast cache hits and misses by backend (memory|memcached).
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Location searches and how many in-region candidates they returned.
	LocationSearchesTotal  prometheus.Counter
	LocationCandidatesSeen prometheus.Histogram

	// Successful predictions by source (forecast|manual) and risk bucket.
	PredictionsTotal *prometheus.CounterVec

	// Failed predictions by error category.
	PredictionErrorsTotal *prometheus.CounterVec

	// Per-location predictions (allow-list; others go to "other").
	PredictionsByLocationTotal *prometheus.CounterVec

	// Classifier latency per invocation.
	ModelInferenceDuration prometheus.Histogram

	// Cache warm attempts by result (success|error).
	CacheWarmTotal *prometheus.CounterVec

	// Rate limit denials.
	RateLimitDeniedTotal prometheus.Counter

	trackedLocationsMu sync.RWMutex
	trackedLocations   map[string]struct{}

	trafficGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	UpstreamAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamApiCallsTotal",
			Help: "Total number of geocoding and forecast API calls",
		},
		[]string{"api", "status"},
	)
	UpstreamAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstreamApiDurationSeconds",
			Help:    "Upstream API latency in seconds (per attempt)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20},
		},
		[]string{"api", "status"},
	)
	UpstreamAPIRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamApiRetriesTotal",
			Help: "Total number of retry attempts for upstream API calls",
		},
		[]string{"api"},
	)
	UpstreamAPIErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamApiErrorsTotal",
			Help: "Upstream API failures after retries, by error category",
		},
		[]string{"api", "category"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state per upstream: 0 closed, 1 half-open, 2 open",
		},
		[]string{"component"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of forecast cache hits",
		},
		[]string{"cacheType"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of forecast cache misses",
		},
		[]string{"cacheType"},
	)
	LocationSearchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "locationSearchesTotal",
			Help: "Total number of location searches",
		},
	)
	LocationCandidatesSeen = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "locationCandidatesReturned",
			Help:    "In-region candidates returned per location search",
			Buckets: []float64{0, 1, 2, 5, 10, 20},
		},
	)
	PredictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predictionsTotal",
			Help: "Successful risk predictions by source and bucket",
		},
		[]string{"source", "bucket"},
	)
	PredictionErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predictionErrorsTotal",
			Help: "Failed risk predictions by error category",
		},
		[]string{"category"},
	)
	PredictionsByLocationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predictionsByLocationTotal",
			Help: "Predictions by location (allow-list; others use location=other)",
		},
		[]string{"location"},
	)
	ModelInferenceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "modelInferenceDurationSeconds",
			Help:    "Classifier latency in seconds (per invocation)",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)
	CacheWarmTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheWarmTotal",
			Help: "Forecast cache warm attempts by result",
		},
		[]string{"result"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		UpstreamAPICallsTotal, UpstreamAPIDuration, UpstreamAPIRetriesTotal, UpstreamAPIErrorsTotal,
		CircuitBreakerState,
		CacheHitsTotal, CacheMissesTotal,
		LocationSearchesTotal, LocationCandidatesSeen,
		PredictionsTotal, PredictionErrorsTotal, PredictionsByLocationTotal,
		ModelInferenceDuration,
		CacheWarmTotal,
		RateLimitDeniedTotal,
	)
}

// TrafficWindow is the read side of a traffic tracker.
type TrafficWindow interface {
	RequestCount(window time.Duration) int
	DenialCount(window time.Duration) int
	ErrorRate(window time.Duration) (errors, total int)
}

// RegisterTrafficGauges exposes load, denials and error rate over window.
// Only the first call registers.
func RegisterTrafficGauges(tw TrafficWindow, window time.Duration) {
	trafficGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "requestsInWindow",
					Help: "Prediction and search outcomes in the sliding window",
				},
				func() float64 { return float64(tw.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in the sliding window",
				},
				func() float64 { return float64(tw.DenialCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "errorRateInWindow",
					Help: "Upstream and model failures as a fraction of outcomes in the sliding window",
				},
				func() float64 {
					errs, total := tw.ErrorRate(window)
					if total == 0 {
						return 0
					}
					return float64(errs) / float64(total)
				},
			),
		)
	})
}

// SetTrackedLocations sets the allow-list for per-location metrics.
func SetTrackedLocations(locations []string) {
	trackedLocationsMu.Lock()
	defer trackedLocationsMu.Unlock()
	trackedLocations = make(map[string]struct{}, len(locations))
	for _, loc := range locations {
		trackedLocations[normalizeLocationForMetrics(loc)] = struct{}{}
	}
}

// RecordLocationPrediction counts a prediction for a location name.
func RecordLocationPrediction(location string) {
	loc := normalizeLocationForMetrics(location)
	trackedLocationsMu.RLock()
	_, ok := trackedLocations[loc]
	trackedLocationsMu.RUnlock()
	if ok {
		PredictionsByLocationTotal.WithLabelValues(loc).Inc()
	} else {
		PredictionsByLocationTotal.WithLabelValues("other").Inc()
	}
}

func normalizeLocationForMetrics(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	return strings.ToLower(s)
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
