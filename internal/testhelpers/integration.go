//go:build integration
// +build integration

// Package testhelpers wires the real stack against live Open-Meteo for
// integration tests.
package testhelpers

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/kjstillabower/weather2go/internal/cache"
	"github.com/kjstillabower/weather2go/internal/classifier"
	"github.com/kjstillabower/weather2go/internal/client"
	"github.com/kjstillabower/weather2go/internal/geo"
	"github.com/kjstillabower/weather2go/internal/observability"
	"github.com/kjstillabower/weather2go/internal/risk"
	"github.com/kjstillabower/weather2go/internal/service"
	"github.com/kjstillabower/weather2go/internal/session"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	GeocodingURL  string
	ForecastURL   string
	ModelPath     string
	CacheBackend  string // "memory" or "memcached"
	MemcachedAddr string
}

// Michigan is the region every integration test resolves against.
var Michigan = geo.Region{Name: "Michigan", Abbreviation: "MI", CountryCode: "US", Language: "en", ResultCap: 20}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips in -short mode since every test reaches the public Open-Meteo API.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	if testing.Short() {
		t.Skip("short mode, skipping live Open-Meteo integration test")
	}
	return IntegrationTestConfig{
		GeocodingURL:  envOr("GEOCODING_URL", "https://geocoding-api.open-meteo.com/v1/search"),
		ForecastURL:   envOr("FORECAST_URL", "https://api.open-meteo.com/v1/forecast"),
		ModelPath:     envOr("MODEL_PATH", bundledModelPath()),
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: envOr("MEMCACHED_ADDRS", "localhost:11211"),
	}
}

// SetupIntegrationService builds a PredictionService over the live client and
// the bundled forest. Returns the service, its cache and a cleanup function.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) (*service.PredictionService, cache.Cache, func()) {
	t.Helper()
	logger, err := observability.NewLogger()
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	c, err := client.NewOpenMeteoClient(client.Options{
		GeocodingURL: cfg.GeocodingURL,
		ForecastURL:  cfg.ForecastURL,
		Timeout:      10 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewOpenMeteoClient() error = %v", err)
	}

	model, err := classifier.Load(cfg.ModelPath)
	if err != nil {
		t.Fatalf("classifier.Load(%s) error = %v", cfg.ModelPath, err)
	}
	predictor, err := risk.NewPredictor(model, "high", logger)
	if err != nil {
		t.Fatalf("NewPredictor() error = %v", err)
	}

	var cacheSvc cache.Cache
	cleanup := func() {}
	cacheType := "memory"
	if cfg.CacheBackend == "memcached" {
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err == nil && mc.Ping() == nil {
			cacheSvc = mc
			cacheType = "memcached"
			cleanup = func() { _ = mc.Close() }
			t.Logf("Using Memcached cache at %s", cfg.MemcachedAddr)
		} else {
			t.Logf("Memcached not available, using in-memory cache")
		}
	}
	if cacheSvc == nil {
		cacheSvc = cache.NewInMemoryCache(nil)
	}

	svc := service.NewPredictionService(geo.NewResolver(c, Michigan), c, cacheSvc, predictor, session.NewStore(), service.Options{
		CacheTTL:  5 * time.Minute,
		CacheType: cacheType,
		Logger:    logger,
	})
	return svc, cacheSvc, cleanup
}

func bundledModelPath() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "artifacts", "road_risk_forest.json")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
