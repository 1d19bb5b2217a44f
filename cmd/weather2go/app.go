package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather2go/internal/cache"
	"github.com/kjstillabower/weather2go/internal/circuitbreaker"
	"github.com/kjstillabower/weather2go/internal/classifier"
	"github.com/kjstillabower/weather2go/internal/client"
	"github.com/kjstillabower/weather2go/internal/config"
	"github.com/kjstillabower/weather2go/internal/geo"
	"github.com/kjstillabower/weather2go/internal/observability"
	"github.com/kjstillabower/weather2go/internal/risk"
	"github.com/kjstillabower/weather2go/internal/service"
	"github.com/kjstillabower/weather2go/internal/session"
)

// app is the wired dependency graph shared by every subcommand.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	svc       *service.PredictionService
	memcached *cache.MemcachedCache
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}

// buildApp loads config and wires the pipeline. A model that fails to load
// is fatal: nothing can be scored without it.
func buildApp(ctx context.Context) (*app, error) {
	// Config first: it loads .env, which may set LOG_LEVEL and LOG_FORMAT.
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger, err := observability.NewLogger()
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	opts := client.Options{
		GeocodingURL:   cfg.GeocodingURL,
		ForecastURL:    cfg.ForecastURL,
		Timezone:       cfg.ForecastTimezone,
		Timeout:        cfg.UpstreamTimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
	}
	if cfg.CircuitBreakerEnabled {
		opts.GeocodingBreaker = newBreaker(cfg, "geocoding", logger)
		opts.ForecastBreaker = newBreaker(cfg, "forecast", logger)
		logger.Info("circuit breakers enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}
	upstream, err := client.NewOpenMeteoClient(opts)
	if err != nil {
		return nil, fmt.Errorf("open-meteo client: %w", err)
	}

	model, err := loadModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("model: %w", err)
	}
	predictor, err := risk.NewPredictor(model, cfg.HighRiskClass, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("model loaded",
		zap.String("backend", cfg.ModelBackend),
		zap.String("model", model.Name()),
		zap.Strings("classes", model.Classes()),
		zap.Bool("supports_proba", predictor.SupportsProba()))

	a := &app{cfg: cfg, logger: logger}
	var c cache.Cache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			return nil, fmt.Errorf("memcached cache: %w", err)
		}
		a.memcached = mc
		c = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		c = cache.NewInMemoryCache(nil)
		logger.Info("cache backend: memory")
	}

	region := geo.Region{
		Name:         cfg.RegionName,
		Abbreviation: cfg.RegionAbbrev,
		CountryCode:  cfg.RegionCountryCode,
		Language:     cfg.RegionLanguage,
		ResultCap:    cfg.RegionResultCap,
	}
	a.svc = service.NewPredictionService(geo.NewResolver(upstream, region), upstream, c, predictor, session.NewStore(), service.Options{
		CacheTTL:     cfg.CacheTTL,
		CacheType:    cfg.CacheBackend,
		FetchTimeout: cfg.RequestTimeout,
		Logger:       logger,
	})
	return a, nil
}

func loadModel(ctx context.Context, cfg *config.Config) (classifier.Model, error) {
	switch cfg.ModelBackend {
	case "remote":
		return classifier.NewRemote(ctx, cfg.ModelURL, cfg.ModelTimeout)
	default:
		return classifier.Load(cfg.ModelPath)
	}
}

func newBreaker(cfg *config.Config, component string, logger *zap.Logger) *circuitbreaker.CircuitBreaker {
	observability.CircuitBreakerState.WithLabelValues(component).Set(float64(circuitbreaker.StateClosed))
	return circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.CircuitBreakerFailureThreshold,
		SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
		Timeout:          cfg.CircuitBreakerTimeout,
		Component:        component,
		// A rejected request says nothing about upstream health.
		IsFailure: func(err error) bool { return !errors.Is(err, client.ErrClientError) },
		OnStateChange: func(from, to circuitbreaker.State) {
			observability.CircuitBreakerState.WithLabelValues(component).Set(float64(to))
			logger.Warn("circuit breaker state change",
				zap.String("component", component),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

func (a *app) close() {
	if a.memcached != nil {
		if err := a.memcached.Close(); err != nil {
			a.logger.Error("memcached close", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
