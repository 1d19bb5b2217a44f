package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather2go/internal/cache"
	"github.com/kjstillabower/weather2go/internal/client"
	"github.com/kjstillabower/weather2go/internal/classifier"
	"github.com/kjstillabower/weather2go/internal/geo"
	"github.com/kjstillabower/weather2go/internal/lifecycle"
	"github.com/kjstillabower/weather2go/internal/models"
	"github.com/kjstillabower/weather2go/internal/observability"
	"github.com/kjstillabower/weather2go/internal/risk"
	"github.com/kjstillabower/weather2go/internal/service"
	"github.com/kjstillabower/weather2go/internal/session"
	"github.com/kjstillabower/weather2go/internal/traffic"
)

type mockGeocoder struct {
	mu      sync.Mutex
	results []models.Location
	err     error
}

func (m *mockGeocoder) Search(ctx context.Context, p client.SearchParams) ([]models.Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.results, m.err
}

type mockForecasts struct {
	fc  models.HourlyForecast
	err error
}

func (m *mockForecasts) GetHourlyForecast(ctx context.Context, lat, lon float64) (models.HourlyForecast, error) {
	return m.fc, m.err
}

type mockModel struct{ proba []float64 }

func (m *mockModel) Name() string      { return "mock" }
func (m *mockModel) Classes() []string { return []string{"low", "high"} }
func (m *mockModel) PredictProba(ctx context.Context, rows []models.FeatureVector) ([][]float64, error) {
	return [][]float64{m.proba}, nil
}

type labelOnlyModel struct{}

func (labelOnlyModel) Name() string      { return "labels" }
func (labelOnlyModel) Classes() []string { return []string{"low", "high"} }

func ptr[T any](v T) *T { return &v }

func referenceForecast() models.HourlyForecast {
	return models.HourlyForecast{
		Timezone: "America/Detroit",
		Hourly: models.HourlySeries{
			Time:               []string{"2024-02-05T07:00", "2024-02-05T08:00"},
			Temperature2m:      []*float64{ptr(-1.0), ptr(0.0)},
			RelativeHumidity2m: []*float64{ptr(85.0), ptr(90.0)},
			Precipitation:      []*float64{ptr(0.0), ptr(5.08)},
			WindSpeed10m:       []*float64{ptr(10.0), ptr(20.0)},
			WeatherCode:        []*int{ptr(3), ptr(65)},
		},
	}
}

var detroit = models.Location{Name: "Detroit", Region: "Michigan", Admin2: "Wayne", Country: "United States", Latitude: 42.33, Longitude: -83.05}

type testServer struct {
	router    http.Handler
	geocoder  *mockGeocoder
	forecasts *mockForecasts
	lifecycle *lifecycle.Lifecycle
	traffic   *traffic.Tracker
	clock     *clockwork.FakeClock
}

type serverOption func(*serverSetup)

type serverSetup struct {
	model   classifier.Model
	limiter *rate.Limiter
	health  *HealthConfig
	logger  *zap.Logger
}

func withModel(m classifier.Model) serverOption  { return func(s *serverSetup) { s.model = m } }
func withLimiter(l *rate.Limiter) serverOption   { return func(s *serverSetup) { s.limiter = l } }
func withHealth(hc *HealthConfig) serverOption   { return func(s *serverSetup) { s.health = hc } }
func withLogger(logger *zap.Logger) serverOption { return func(s *serverSetup) { s.logger = logger } }

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	setup := serverSetup{
		model:  &mockModel{proba: []float64{0.25, 0.75}},
		health: &HealthConfig{Window: time.Minute, DegradedErrorPct: 50},
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(&setup)
	}

	clock := clockwork.NewFakeClockAt(time.Date(2024, 2, 5, 12, 0, 0, 0, time.UTC))
	ts := &testServer{
		geocoder:  &mockGeocoder{results: []models.Location{{Name: "Detroit", Region: "Maine"}, detroit}},
		forecasts: &mockForecasts{fc: referenceForecast()},
		lifecycle: &lifecycle.Lifecycle{},
		traffic:   traffic.NewTracker(clock, 0),
		clock:     clock,
	}
	ts.lifecycle.Set(lifecycle.StateServing)

	predictor, err := risk.NewPredictor(setup.model, "high", nil)
	require.NoError(t, err)
	region := geo.Region{Name: "Michigan", Abbreviation: "MI", CountryCode: "US"}
	svc := service.NewPredictionService(geo.NewResolver(ts.geocoder, region), ts.forecasts,
		cache.NewInMemoryCache(clock), predictor, session.NewStore(), service.Options{Clock: clock})

	h := NewHandler(svc, ts.lifecycle, ts.traffic, setup.health, QueryLimits{MinLength: 1, MaxLength: 100}, setup.logger)
	h.clock = clock
	ts.router = NewRouter(h, RouterConfig{
		Logger:         setup.logger,
		Limiter:        setup.limiter,
		Traffic:        ts.traffic,
		RequestTimeout: 5 * time.Second,
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

type errorEnvelope struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"requestId"`
	} `json:"error"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env), w.Body.String())
	return env
}

func TestHandler_GetLocations(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/locations?q=Detroit,%20MI", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Query     string `json:"query"`
		Lookup    string `json:"lookup"`
		Region    string `json:"region"`
		Count     int    `json:"count"`
		Locations []struct {
			Name   string `json:"name"`
			Admin2 string `json:"admin2"`
			Label  string `json:"label"`
		} `json:"locations"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "Detroit, MI", resp.Query)
	assert.Equal(t, "Detroit", resp.Lookup)
	assert.Equal(t, "Michigan", resp.Region)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "Detroit, Wayne MI (lat=42.330, lon=-83.050)", resp.Locations[0].Label)
	assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))
}

func TestHandler_GetLocations_NoCandidatesIsEmptyList(t *testing.T) {
	ts := newTestServer(t)
	ts.geocoder.results = []models.Location{{Name: "Toledo", Region: "Ohio"}}
	w := ts.do(t, http.MethodGet, "/locations?q=Toledo", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"query":"Toledo","lookup":"Toledo","region":"Michigan","count":0,"locations":[]}`, w.Body.String())
}

// TestHandler_GetLocations_Errors covers the error envelope for bad queries
// and upstream failures, including the echoed request id.
func TestHandler_GetLocations_Errors(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		upstream error
		status   int
		code     string
	}{
		{"missing query", "/locations", nil, http.StatusBadRequest, "INVALID_INPUT"},
		{"bad characters", "/locations?q=det%3Croit", nil, http.StatusBadRequest, "INVALID_INPUT"},
		{"upstream down", "/locations?q=Detroit", fmt.Errorf("exhausted retries: %w", client.ErrUpstreamFailure), http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE"},
		{"rate limited upstream", "/locations?q=Detroit", client.ErrRateLimited, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.geocoder.err = tt.upstream

			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			req.Header.Set("X-Correlation-ID", "req-123")
			w := httptest.NewRecorder()
			ts.router.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			env := decodeError(t, w)
			assert.Equal(t, tt.code, env.Error.Code)
			assert.Equal(t, "req-123", env.Error.RequestID)
			assert.NotEmpty(t, env.Error.Message)
		})
	}
}

func TestHandler_PostPrediction_ReferenceScenario(t *testing.T) {
	ts := newTestServer(t)
	body := `{"location":{"name":"Detroit","region":"Michigan","admin2":"Wayne","latitude":42.33,"longitude":-83.05},"date":"2024-02-05","hour":8}`
	w := ts.do(t, http.MethodPost, "/predictions", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		ID                  string               `json:"id"`
		PickedTime          string               `json:"pickedTime"`
		RiskBucket          models.RiskBucket    `json:"riskBucket"`
		HighRiskProbability float64              `json:"highRiskProbability"`
		Features            models.FeatureVector `json:"features"`
		Advice              []string             `json:"advice"`
		InsuranceNotes      []string             `json:"insuranceNotes"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "2024-02-05T08:00", resp.PickedTime)
	assert.Equal(t, models.RiskHeavy, resp.RiskBucket)
	assert.Equal(t, 0.75, resp.HighRiskProbability)
	assert.Equal(t, models.CategoryRainHeavy, resp.Features.WeatherCategory)
	assert.Equal(t, "Monday", resp.Features.DayOfWeek)
	assert.Equal(t, risk.Advice(models.RiskHeavy), resp.Advice)
	assert.Equal(t, risk.InsuranceNotes, resp.InsuranceNotes)

	latest := ts.do(t, http.MethodGet, "/predictions/latest", "")
	require.Equal(t, http.StatusOK, latest.Code)
	var got struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(latest.Body).Decode(&got))
	assert.Equal(t, resp.ID, got.ID)
}

func TestHandler_PostPrediction_NextAvailable(t *testing.T) {
	ts := newTestServer(t)
	body := `{"location":{"name":"Detroit","region":"Michigan","latitude":42.33,"longitude":-83.05},"nextAvailable":true}`
	w := ts.do(t, http.MethodPost, "/predictions", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"pickedTime":"2024-02-05T07:00"`)
}

func TestHandler_PostPrediction_Errors(t *testing.T) {
	loc := `{"name":"Detroit","region":"Michigan","latitude":42.33,"longitude":-83.05}`
	tests := []struct {
		name   string
		body   string
		status int
		code   string
		msg    string
	}{
		{"malformed json", `{"location":`, http.StatusBadRequest, "INVALID_INPUT", "request body"},
		{"unknown field", `{"location":` + loc + `,"when":"now"}`, http.StatusBadRequest, "INVALID_INPUT", "unknown field"},
		{"missing location", `{"nextAvailable":true}`, http.StatusBadRequest, "INVALID_INPUT", "location is required"},
		{"missing date", `{"location":` + loc + `,"hour":8}`, http.StatusBadRequest, "INVALID_INPUT", "date is required"},
		{"bad date", `{"location":` + loc + `,"date":"02/05/2024","hour":8}`, http.StatusBadRequest, "INVALID_INPUT", "date"},
		{"hour 24", `{"location":` + loc + `,"date":"2024-02-05","hour":24}`, http.StatusBadRequest, "INVALID_INPUT", "hour must be at most 23"},
		{"hour outside window", `{"location":` + loc + `,"date":"2024-02-09","hour":8}`, http.StatusBadRequest, "INVALID_INPUT", "outside available forecast range"},
		{"outside region", `{"location":{"name":"Toledo","region":"Ohio","latitude":41.6,"longitude":-83.5},"nextAvailable":true}`, http.StatusBadRequest, "INVALID_INPUT", "not in Michigan"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			w := ts.do(t, http.MethodPost, "/predictions", tt.body)
			assert.Equal(t, tt.status, w.Code)
			env := decodeError(t, w)
			assert.Equal(t, tt.code, env.Error.Code)
			assert.Contains(t, env.Error.Message, tt.msg)
		})
	}
}

func TestHandler_PostPrediction_EmptyForecastIsNoData(t *testing.T) {
	ts := newTestServer(t)
	ts.forecasts.fc = models.HourlyForecast{}
	body := `{"location":{"name":"Detroit","region":"Michigan","latitude":42.33,"longitude":-83.05},"nextAvailable":true}`
	w := ts.do(t, http.MethodPost, "/predictions", body)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NO_DATA", decodeError(t, w).Error.Code)
}

func TestHandler_GetLatestPrediction_BeforeFirst(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/predictions/latest", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NO_DATA", decodeError(t, w).Error.Code)
}

func TestHandler_PostManualPrediction(t *testing.T) {
	ts := newTestServer(t)
	body := `{"Weather_Category":"snow_heavy","Temperature_F":20,"Humidity_Pct":80,"Wind_Speed_mph":15,"Precipitation_in":0.3,"Day_of_Week":"Friday","Month":1,"Hour":17}`
	w := ts.do(t, http.MethodPost, "/predictions/manual", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"riskBucket":"Heavy"`)

	bad := strings.Replace(body, `"Humidity_Pct":80`, `"Humidity_Pct":120`, 1)
	w = ts.do(t, http.MethodPost, "/predictions/manual", bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeError(t, w).Error.Message, "Humidity_Pct must be at most 100")
}

func TestHandler_ModelCapability(t *testing.T) {
	ts := newTestServer(t, withModel(labelOnlyModel{}))
	body := `{"Weather_Category":"clear","Temperature_F":50,"Humidity_Pct":40,"Wind_Speed_mph":5,"Precipitation_in":0,"Day_of_Week":"Sunday","Month":6,"Hour":12}`
	w := ts.do(t, http.MethodPost, "/predictions/manual", body)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "MODEL_CAPABILITY", decodeError(t, w).Error.Code)

	h := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, h.Code)
	assert.Contains(t, h.Body.String(), `"status":"degraded"`)
	assert.Contains(t, h.Body.String(), `"model":"unhealthy"`)
}

func TestHandler_GetHealth_Lifecycle(t *testing.T) {
	tests := []struct {
		state  lifecycle.State
		status int
		want   string
	}{
		{lifecycle.StateStarting, http.StatusServiceUnavailable, "starting"},
		{lifecycle.StateServing, http.StatusOK, "healthy"},
		{lifecycle.StateDraining, http.StatusServiceUnavailable, "shutting-down"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			ts := newTestServer(t)
			ts.lifecycle.Set(tt.state)
			w := ts.do(t, http.MethodGet, "/health", "")
			assert.Equal(t, tt.status, w.Code)

			var resp map[string]any
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, tt.want, resp["status"])
			assert.Equal(t, "weather2go", resp["service"])
			assert.Equal(t, "Michigan", resp["region"])
			assert.Equal(t, "2024-02-05T12:00:00Z", resp["timestamp"])
		})
	}
}

// TestHandler_GetHealth_ErrorRateBreach drives upstream failures past the
// degraded threshold, then lets the window slide past them.
func TestHandler_GetHealth_ErrorRateBreach(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ts := newTestServer(t, withLogger(zap.New(core)))
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/health", "").Code)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/locations?q=Detroit", "").Code)
	ts.geocoder.err = client.ErrUpstreamFailure
	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusServiceUnavailable, ts.do(t, http.MethodGet, "/locations?q=Detroit", "").Code)
	}
	// Caller errors do not count toward the error rate.
	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/locations", "").Code)

	w := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"upstream":"unhealthy"`)
	assert.Equal(t, 1, logs.FilterMessage("health status transition").Len())

	ts.clock.Advance(2 * time.Minute)
	w = ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandler_GetHealth_CachePing(t *testing.T) {
	ts := newTestServer(t, withHealth(&HealthConfig{
		Window:    time.Minute,
		CachePing: func() error { return fmt.Errorf("memcached down") },
		Version:   "1.2.3",
	}))
	w := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cache":"unhealthy"`)
	assert.Contains(t, w.Body.String(), `"version":"1.2.3"`)
}

func TestRouter_RateLimit(t *testing.T) {
	ts := newTestServer(t, withLimiter(rate.NewLimiter(0, 1)))
	before := testutil.ToFloat64(observability.RateLimitDeniedTotal)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/locations?q=Detroit", "").Code)
	w := ts.do(t, http.MethodGet, "/locations?q=Detroit", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", decodeError(t, w).Error.Code)
	assert.Equal(t, 1, ts.traffic.DenialCount(time.Minute))
	assert.Equal(t, before+1, testutil.ToFloat64(observability.RateLimitDeniedTotal))

	// Health is outside the limited subrouter.
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/health", "").Code)
}

func TestRouter_MetricsUseRouteTemplate(t *testing.T) {
	ts := newTestServer(t)
	counter := observability.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/predictions/latest", "4xx")
	before := testutil.ToFloat64(counter)
	ts.do(t, http.MethodGet, "/predictions/latest", "")
	assert.Equal(t, before+1, testutil.ToFloat64(counter))

	w := ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "httpRequestsTotal")
}

func TestRouter_GzipLargeResponses(t *testing.T) {
	ts := newTestServer(t)
	many := make([]models.Location, 0, 20)
	for i := 0; i < 20; i++ {
		l := detroit
		l.Admin2 = fmt.Sprintf("County %02d", i)
		many = append(many, l)
	}
	ts.geocoder.results = many

	req := httptest.NewRequest(http.MethodGet, "/locations?q=Detroit", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	zr, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.NewDecoder(zr).Decode(&resp))
	assert.Equal(t, 20, resp.Count)
}
