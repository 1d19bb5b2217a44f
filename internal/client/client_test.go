package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/weather2go/internal/circuitbreaker"
	"github.com/kjstillabower/weather2go/internal/models"
	"github.com/kjstillabower/weather2go/internal/observability"
)

const geocodingBody = `{"results":[
 {"name":"Detroit","latitude":42.33143,"longitude":-83.04575,"admin1":"Michigan","admin2":"Wayne","country_code":"US"},
 {"name":"Detroit","latitude":45.66,"longitude":-91.52,"admin1":"Minnesota","country_code":"US"}
]}`

const forecastBody = `{"latitude":42.33,"longitude":-83.05,"timezone":"America/Detroit","hourly":{
 "time":["2024-02-05T08:00","2024-02-05T09:00"],
 "temperature_2m":[0.0,1.5],
 "relative_humidity_2m":[90,85],
 "precipitation":[5.08,null],
 "wind_speed_10m":[20.0,18.2],
 "weather_code":[65,63]
}}`

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate ...func(*Options)) *OpenMeteoClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	opts := Options{
		GeocodingURL:   srv.URL + "/v1/search",
		ForecastURL:    srv.URL + "/v1/forecast",
		Timeout:        time.Second,
		RetryAttempts:  3,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
	}
	for _, m := range mutate {
		m(&opts)
	}
	c, err := NewOpenMeteoClient(opts)
	require.NoError(t, err)
	return c
}

func TestNewOpenMeteoClient_InvalidURL(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"missing geocoding", Options{ForecastURL: "https://api.open-meteo.com/v1/forecast"}},
		{"missing forecast", Options{GeocodingURL: "https://geocoding-api.open-meteo.com/v1/search"}},
		{"bad scheme", Options{GeocodingURL: "ftp://x", ForecastURL: "https://api.open-meteo.com/v1/forecast"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewOpenMeteoClient(tt.opts)
			assert.Error(t, err)
			assert.Nil(t, c)
		})
	}
}

func TestSearch_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/search", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "Detroit", q.Get("name"))
		assert.Equal(t, "20", q.Get("count"))
		assert.Equal(t, "en", q.Get("language"))
		assert.Equal(t, "json", q.Get("format"))
		assert.Equal(t, "US", q.Get("country_code"))
		assert.Equal(t, "corr-1", r.Header.Get("X-Correlation-ID"))
		_, _ = w.Write([]byte(geocodingBody))
	})

	ctx := observability.WithCorrelationID(context.Background(), "corr-1")
	locs, err := c.Search(ctx, SearchParams{Name: "Detroit", Count: 20, Language: "en", CountryCode: "US"})
	require.NoError(t, err)
	require.Len(t, locs, 2)
	assert.Equal(t, models.Location{
		Name: "Detroit", Region: "Michigan", Admin2: "Wayne", Country: "US",
		Latitude: 42.33143, Longitude: -83.04575,
	}, locs[0])
	assert.Equal(t, "Minnesota", locs[1].Region)
}

// TestSearch_NoResults verifies an absent results field is an empty slice.
func TestSearch_NoResults(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"generationtime_ms":0.5}`))
	})
	locs, err := c.Search(context.Background(), SearchParams{Name: "Nowhere"})
	require.NoError(t, err)
	assert.Empty(t, locs)
}

func TestGetHourlyForecast_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/forecast", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "42.33143", q.Get("latitude"))
		assert.Equal(t, "-83.04575", q.Get("longitude"))
		assert.Equal(t, "temperature_2m,relative_humidity_2m,precipitation,wind_speed_10m,weather_code", q.Get("hourly"))
		assert.Equal(t, "auto", q.Get("timezone"))
		_, _ = w.Write([]byte(forecastBody))
	})

	fc, err := c.GetHourlyForecast(context.Background(), 42.33143, -83.04575)
	require.NoError(t, err)
	assert.Equal(t, "America/Detroit", fc.Timezone)
	assert.False(t, fc.FetchedAt.IsZero())

	s, err := fc.Sample(0)
	require.NoError(t, err)
	assert.Equal(t, models.ForecastSample{
		Timestamp: "2024-02-05T08:00", TemperatureC: 0, RelativeHumidityPct: 90,
		PrecipitationMM: 5.08, WindSpeedKmh: 20, WeatherCode: 65,
	}, s)

	_, err = fc.Sample(1)
	assert.True(t, errors.Is(err, models.ErrNoMatch), "null precipitation at index 1")
}

func TestGetHourlyForecast_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"hourly":`},
		{"missing hourly", `{"latitude":1}`},
		{"misaligned arrays", `{"hourly":{"time":["2024-02-05T08:00"],"temperature_2m":[],"relative_humidity_2m":[1],"precipitation":[1],"wind_speed_10m":[1],"weather_code":[1]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.GetHourlyForecast(context.Background(), 1, 2)
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrUpstreamUnavailable), "got %v", err)
		})
	}
}

func TestErrorHandling(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantErr   error
		wantCalls int32
	}{
		{"rate limited retried", http.StatusTooManyRequests, "", ErrRateLimited, 3},
		{"5xx retried", http.StatusBadGateway, "", ErrUpstreamFailure, 3},
		{"4xx not retried", http.StatusBadRequest, `{"error":true,"reason":"Latitude must be in range"}`, ErrClientError, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.GetHourlyForecast(context.Background(), 100, 0)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.True(t, errors.Is(err, models.ErrUpstreamUnavailable))
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestErrorHandling_ReasonInMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":true,"reason":"Latitude must be in range"}`))
	})
	_, err := c.GetHourlyForecast(context.Background(), 100, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Latitude must be in range")
}

// TestRetry_RecoversAfterTransientFailure verifies a 503 followed by a 200 succeeds.
func TestRetry_RecoversAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(geocodingBody))
	})
	locs, err := c.Search(context.Background(), SearchParams{Name: "Detroit"})
	require.NoError(t, err)
	assert.Len(t, locs, 2)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTimeout_IsRetryable(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(200 * time.Millisecond):
		}
	}, func(o *Options) {
		o.Timeout = 20 * time.Millisecond
		o.RetryAttempts = 2
	})
	_, err := c.Search(context.Background(), SearchParams{Name: "Detroit"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout), "got %v", err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestContextCancellation_StopsRetries(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		cancel()
		w.WriteHeader(http.StatusServiceUnavailable)
	}, func(o *Options) {
		o.RetryBaseDelay = 50 * time.Millisecond
	})
	_, err := c.Search(ctx, SearchParams{Name: "Detroit"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrUpstreamUnavailable))
	assert.Equal(t, int32(1), calls.Load())
}

// TestDeadlineDuringBackoff_IsUpstreamTimeout verifies a deadline that expires
// while waiting between retries is reported as an upstream timeout.
func TestDeadlineDuringBackoff_IsUpstreamTimeout(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, func(o *Options) {
		o.RetryBaseDelay = 200 * time.Millisecond
		o.RetryMaxDelay = 200 * time.Millisecond
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Search(ctx, SearchParams{Name: "Detroit"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrUpstreamUnavailable))
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, ErrorCategoryTimeout, CategorizeError(err))
	assert.Equal(t, int32(1), calls.Load())
}

// TestCircuitBreaker_OpensOnRepeatedFailures verifies an open breaker short-circuits
// further calls without reaching the server.
func TestCircuitBreaker_OpensOnRepeatedFailures(t *testing.T) {
	var calls atomic.Int32
	breaker := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 2, Timeout: time.Minute, Component: "forecast"})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}, func(o *Options) {
		o.ForecastBreaker = breaker
	})

	_, err := c.GetHourlyForecast(context.Background(), 1, 2)
	require.Error(t, err)
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State())
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, ErrorCategoryCircuitOpen, CategorizeError(err))

	_, err = c.GetHourlyForecast(context.Background(), 1, 2)
	assert.True(t, errors.Is(err, circuitbreaker.ErrOpen))
	assert.True(t, errors.Is(err, models.ErrUpstreamUnavailable))
	assert.Equal(t, int32(2), calls.Load())
}

func TestCalculateBackoff(t *testing.T) {
	c := &OpenMeteoClient{retryBaseDelay: 100 * time.Millisecond, retryMaxDelay: time.Second}
	tests := []struct {
		attempt  int
		min, max time.Duration
	}{
		{1, 100 * time.Millisecond, 110 * time.Millisecond},
		{2, 200 * time.Millisecond, 220 * time.Millisecond},
		{3, 400 * time.Millisecond, 440 * time.Millisecond},
		{6, time.Second, 1100 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt %d", tt.attempt), func(t *testing.T) {
			d := c.calculateBackoff(tt.attempt)
			assert.GreaterOrEqual(t, d, tt.min)
			assert.LessOrEqual(t, d, tt.max)
		})
	}
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "success", statusLabel(200))
	assert.Equal(t, "rate_limited", statusLabel(429))
	assert.Equal(t, "client_error", statusLabel(404))
	assert.Equal(t, "server_error", statusLabel(503))
	assert.Equal(t, "error", statusLabel(302))
}
