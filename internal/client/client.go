// Package client talks to the Open-Meteo geocoding and forecast APIs.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/weather2go/internal/circuitbreaker"
	"github.com/kjstillabower/weather2go/internal/models"
	"github.com/kjstillabower/weather2go/internal/observability"
)

const (
	apiGeocoding = "geocoding"
	apiForecast  = "forecast"
)

// HourlyFields are the forecast variables the feature builder consumes.
var HourlyFields = []string{"temperature_2m", "relative_humidity_2m", "precipitation", "wind_speed_10m", "weather_code"}

// SearchParams is one geocoding query.
type SearchParams struct {
	Name        string
	Count       int
	Language    string
	CountryCode string
}

// Geocoder resolves a place name to candidate locations, in provider order.
type Geocoder interface {
	Search(ctx context.Context, params SearchParams) ([]models.Location, error)
}

// ForecastProvider fetches an hourly forecast in the location's local time.
type ForecastProvider interface {
	GetHourlyForecast(ctx context.Context, lat, lon float64) (models.HourlyForecast, error)
}

var (
	ErrUpstreamFailure   = fmt.Errorf("%w: upstream failure", models.ErrUpstreamUnavailable)
	ErrRateLimited       = fmt.Errorf("%w: rate limited", models.ErrUpstreamUnavailable)
	ErrClientError       = fmt.Errorf("%w: request rejected", models.ErrUpstreamUnavailable)
	ErrMalformedResponse = fmt.Errorf("%w: malformed response", models.ErrUpstreamUnavailable)
	ErrTimeout           = fmt.Errorf("%w: request timeout", models.ErrUpstreamUnavailable)
)

// Options configures an OpenMeteoClient. Zero values take defaults.
type Options struct {
	GeocodingURL   string
	ForecastURL    string
	Timezone       string
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// Optional per-API circuit breakers.
	GeocodingBreaker *circuitbreaker.CircuitBreaker
	ForecastBreaker  *circuitbreaker.CircuitBreaker
}

// OpenMeteoClient implements Geocoder and ForecastProvider.
type OpenMeteoClient struct {
	geocodingURL   *url.URL
	forecastURL    *url.URL
	timezone       string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breakers       map[string]*circuitbreaker.CircuitBreaker
}

func NewOpenMeteoClient(opts Options) (*OpenMeteoClient, error) {
	geoURL, err := parseBaseURL(opts.GeocodingURL)
	if err != nil {
		return nil, fmt.Errorf("geocoding url: %w", err)
	}
	fcURL, err := parseBaseURL(opts.ForecastURL)
	if err != nil {
		return nil, fmt.Errorf("forecast url: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 100 * time.Millisecond
	}
	if opts.RetryMaxDelay <= 0 {
		opts.RetryMaxDelay = 2 * time.Second
	}
	if opts.Timezone == "" {
		opts.Timezone = "auto"
	}

	c := &OpenMeteoClient{
		geocodingURL:   geoURL,
		forecastURL:    fcURL,
		timezone:       opts.Timezone,
		timeout:        opts.Timeout,
		retryAttempts:  opts.RetryAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		retryMaxDelay:  opts.RetryMaxDelay,
		client: &http.Client{
			Timeout: opts.Timeout,
		},
		breakers: map[string]*circuitbreaker.CircuitBreaker{},
	}
	if opts.GeocodingBreaker != nil {
		c.breakers[apiGeocoding] = opts.GeocodingBreaker
	}
	if opts.ForecastBreaker != nil {
		c.breakers[apiForecast] = opts.ForecastBreaker
	}
	return c, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u, nil
}

type geocodingResponse struct {
	Results []struct {
		Name        string  `json:"name"`
		Latitude    float64 `json:"latitude"`
		Longitude   float64 `json:"longitude"`
		Admin1      string  `json:"admin1"`
		Admin2      string  `json:"admin2"`
		CountryCode string  `json:"country_code"`
	} `json:"results"`
}

type forecastResponse struct {
	Latitude  float64              `json:"latitude"`
	Longitude float64              `json:"longitude"`
	Timezone  string               `json:"timezone"`
	Hourly    *models.HourlySeries `json:"hourly"`
}

// Search queries the geocoding API. A response without results is an empty
// slice, not an error.
func (c *OpenMeteoClient) Search(ctx context.Context, params SearchParams) ([]models.Location, error) {
	q := url.Values{}
	q.Set("name", params.Name)
	if params.Count > 0 {
		q.Set("count", strconv.Itoa(params.Count))
	}
	if params.Language != "" {
		q.Set("language", params.Language)
	}
	q.Set("format", "json")
	if params.CountryCode != "" {
		q.Set("country_code", params.CountryCode)
	}

	var resp geocodingResponse
	if err := c.withRetry(ctx, apiGeocoding, func(ctx context.Context) error {
		resp = geocodingResponse{}
		return c.callAPI(ctx, apiGeocoding, c.geocodingURL, q, &resp)
	}); err != nil {
		return nil, err
	}

	locations := make([]models.Location, 0, len(resp.Results))
	for _, r := range resp.Results {
		locations = append(locations, models.Location{
			Name:      r.Name,
			Region:    r.Admin1,
			Admin2:    r.Admin2,
			Country:   r.CountryCode,
			Latitude:  r.Latitude,
			Longitude: r.Longitude,
		})
	}
	return locations, nil
}

// GetHourlyForecast fetches the hourly variables in HourlyFields.
func (c *OpenMeteoClient) GetHourlyForecast(ctx context.Context, lat, lon float64) (models.HourlyForecast, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("hourly", strings.Join(HourlyFields, ","))
	q.Set("timezone", c.timezone)

	var resp forecastResponse
	if err := c.withRetry(ctx, apiForecast, func(ctx context.Context) error {
		resp = forecastResponse{}
		return c.callAPI(ctx, apiForecast, c.forecastURL, q, &resp)
	}); err != nil {
		return models.HourlyForecast{}, err
	}

	if resp.Hourly == nil {
		return models.HourlyForecast{}, fmt.Errorf("%w: forecast has no hourly block", ErrMalformedResponse)
	}
	if err := resp.Hourly.Aligned(); err != nil {
		return models.HourlyForecast{}, err
	}
	return models.HourlyForecast{
		Latitude:  resp.Latitude,
		Longitude: resp.Longitude,
		Timezone:  resp.Timezone,
		Hourly:    *resp.Hourly,
		FetchedAt: time.Now().UTC(),
	}, nil
}

func (c *OpenMeteoClient) withRetry(ctx context.Context, api string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.UpstreamAPIRetriesTotal.WithLabelValues(api).Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				err := fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
				observability.UpstreamAPIErrorsTotal.WithLabelValues(api, string(CategorizeError(err))).Inc()
				return err
			case <-time.After(delay):
			}
		}

		err := c.attempt(ctx, api, fn)
		if err == nil {
			return nil
		}

		lastErr = err
		if ctx.Err() != nil || !c.isRetryable(err) {
			observability.UpstreamAPIErrorsTotal.WithLabelValues(api, string(CategorizeError(err))).Inc()
			return err
		}
	}

	observability.UpstreamAPIErrorsTotal.WithLabelValues(api, string(CategorizeError(lastErr))).Inc()
	return fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *OpenMeteoClient) attempt(ctx context.Context, api string, fn func(ctx context.Context) error) error {
	breaker, ok := c.breakers[api]
	if !ok {
		return fn(ctx)
	}
	err := breaker.Call(ctx, func() error { return fn(ctx) })
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return fmt.Errorf("%w: %w", models.ErrUpstreamUnavailable, err)
	}
	return err
}

func (c *OpenMeteoClient) callAPI(ctx context.Context, api string, base *url.URL, query url.Values, out any) error {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, base, query)
	if err != nil {
		observability.UpstreamAPICallsTotal.WithLabelValues(api, "error").Inc()
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.UpstreamAPICallsTotal.WithLabelValues(api, "error").Inc()
		observability.UpstreamAPIDuration.WithLabelValues(api, "error").Observe(time.Since(start).Seconds())

		if isTimeout(err) {
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return fmt.Errorf("%w: http request failed: %w", models.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.UpstreamAPICallsTotal.WithLabelValues(api, status).Inc()
	observability.UpstreamAPIDuration.WithLabelValues(api, status).Observe(time.Since(start).Seconds())

	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: read body: %w", ErrTimeout, err)
		}
		return fmt.Errorf("%w: read response body: %w", models.ErrUpstreamUnavailable, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: parse response: %v", ErrMalformedResponse, err)
	}
	return nil
}

func (c *OpenMeteoClient) buildRequest(ctx context.Context, base *url.URL, query url.Values) (*http.Request, error) {
	u := *base
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

func (c *OpenMeteoClient) handleErrorResponse(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	case resp.StatusCode >= 400:
		// Open-Meteo explains 400s in {"error":true,"reason":"..."}
		var body struct {
			Reason string `json:"reason"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
		if body.Reason != "" {
			return fmt.Errorf("%w: HTTP %d: %s", ErrClientError, resp.StatusCode, body.Reason)
		}
		return fmt.Errorf("%w: HTTP %d", ErrClientError, resp.StatusCode)
	}
	return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
}

func (c *OpenMeteoClient) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrUpstreamFailure) ||
		errors.Is(err, ErrTimeout)
}

func (c *OpenMeteoClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == http.StatusTooManyRequests {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
