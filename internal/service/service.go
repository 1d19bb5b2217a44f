// Package service runs the prediction pipeline: resolve a place, load its
// hourly forecast through the cache, pick an hour, build features, score and
// bucket the risk.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/weather2go/internal/cache"
	"github.com/kjstillabower/weather2go/internal/client"
	"github.com/kjstillabower/weather2go/internal/features"
	"github.com/kjstillabower/weather2go/internal/forecast"
	"github.com/kjstillabower/weather2go/internal/geo"
	"github.com/kjstillabower/weather2go/internal/models"
	"github.com/kjstillabower/weather2go/internal/observability"
	"github.com/kjstillabower/weather2go/internal/risk"
	"github.com/kjstillabower/weather2go/internal/session"
	"github.com/kjstillabower/weather2go/internal/validation"
)

const (
	sourceForecast = "forecast"
	sourceManual   = "manual"
)

// Options tunes a PredictionService. Zero values take defaults.
type Options struct {
	CacheTTL time.Duration
	// CacheType labels cache hit/miss metrics ("memory" or "memcached").
	CacheType string
	// FetchTimeout bounds a shared upstream fetch, which outlives the caller
	// that started it.
	FetchTimeout time.Duration
	Clock        clockwork.Clock
	Logger       *zap.Logger
}

// PredictionService orchestrates geocoding, forecast retrieval (cache-aside
// with coalesced upstream fetches) and risk scoring.
type PredictionService struct {
	resolver  *geo.Resolver
	forecasts client.ForecastProvider
	cache     cache.Cache
	predictor *risk.Predictor
	store     *session.Store

	ttl          time.Duration
	cacheType    string
	fetchTimeout time.Duration
	clock        clockwork.Clock
	logger       *zap.Logger

	group singleflight.Group
}

// NewPredictionService wires the pipeline. store receives every fully
// successful prediction and nothing else.
func NewPredictionService(resolver *geo.Resolver, forecasts client.ForecastProvider, c cache.Cache, predictor *risk.Predictor, store *session.Store, opts Options) *PredictionService {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 15 * time.Minute
	}
	if opts.CacheType == "" {
		opts.CacheType = "memory"
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &PredictionService{
		resolver:     resolver,
		forecasts:    forecasts,
		cache:        c,
		predictor:    predictor,
		store:        store,
		ttl:          opts.CacheTTL,
		cacheType:    opts.CacheType,
		fetchTimeout: opts.FetchTimeout,
		clock:        opts.Clock,
		logger:       opts.Logger,
	}
}

// Region returns the region candidates are filtered to.
func (s *PredictionService) Region() geo.Region {
	return s.resolver.Region()
}

// ModelName identifies the loaded classifier.
func (s *PredictionService) ModelName() string {
	return s.predictor.ModelName()
}

// ModelReady reports whether the classifier can produce probabilities.
func (s *PredictionService) ModelReady() bool {
	return s.predictor.SupportsProba()
}

// Search returns the in-region candidates for a free-text place name.
func (s *PredictionService) Search(ctx context.Context, query string) ([]models.Location, error) {
	logger := observability.LoggerFromContext(ctx, s.logger)
	observability.LocationSearchesTotal.Inc()

	locs, err := s.resolver.Resolve(ctx, query)
	if err != nil {
		logger.Warn("location search failed", zap.String("query", query), zap.Error(err))
		return nil, err
	}
	observability.LocationCandidatesSeen.Observe(float64(len(locs)))
	logger.Debug("location search", zap.String("query", query), zap.Int("candidates", len(locs)))
	return locs, nil
}

// Forecast returns the hourly forecast for loc. Cached forecasts are served
// until the TTL lapses; concurrent misses for the same coordinates share one
// upstream fetch. The shared fetch is detached from any one caller; each
// caller waits only as long as its own context allows. A failing cache
// degrades to a miss.
func (s *PredictionService) Forecast(ctx context.Context, loc models.Location) (models.HourlyForecast, error) {
	logger := observability.LoggerFromContext(ctx, s.logger)
	key := cache.ForecastKey(loc.Latitude, loc.Longitude)

	cached, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		observability.CacheHitsTotal.WithLabelValues(s.cacheType).Inc()
		logger.Debug("cache hit", zap.String("key", key))
		return cached, nil
	}
	observability.CacheMissesTotal.WithLabelValues(s.cacheType).Inc()

	ch := s.group.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout)
		defer cancel()
		fc, err := s.forecasts.GetHourlyForecast(fetchCtx, loc.Latitude, loc.Longitude)
		if err != nil {
			return models.HourlyForecast{}, err
		}
		if setErr := s.cache.Set(fetchCtx, key, fc, s.ttl); setErr != nil {
			logger.Warn("cache set failed", zap.String("key", key), zap.Error(setErr))
		}
		return fc, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return models.HourlyForecast{}, fmt.Errorf("fetch forecast for %s: %w", loc.Name, res.Err)
		}
		if res.Shared {
			logger.Debug("forecast fetch coalesced", zap.String("key", key))
		}
		return res.Val.(models.HourlyForecast), nil
	case <-ctx.Done():
		return models.HourlyForecast{}, fmt.Errorf("fetch forecast for %s: %w: %w", loc.Name, client.ErrTimeout, ctx.Err())
	}
}

// Predict scores the driving risk at loc for the selected forecast hour and
// stores the result as the latest prediction.
func (s *PredictionService) Predict(ctx context.Context, loc models.Location, sel forecast.Selection) (models.PredictionResult, error) {
	res, err := s.predict(ctx, loc, sel)
	if err != nil {
		observability.PredictionErrorsTotal.WithLabelValues(string(client.CategorizeError(err))).Inc()
		return models.PredictionResult{}, err
	}
	s.commit(ctx, res, sourceForecast)
	observability.RecordLocationPrediction(loc.Name)
	return res, nil
}

func (s *PredictionService) predict(ctx context.Context, loc models.Location, sel forecast.Selection) (models.PredictionResult, error) {
	if err := validation.Struct(loc); err != nil {
		return models.PredictionResult{}, err
	}
	if !s.resolver.Contains(loc) {
		return models.PredictionResult{}, fmt.Errorf("%w: %s is not in %s", models.ErrInvalidInput, loc.Name, s.resolver.Region().Name)
	}

	fc, err := s.Forecast(ctx, loc)
	if err != nil {
		return models.PredictionResult{}, err
	}
	idx, ts, err := forecast.Select(fc.Hourly.Time, sel)
	if err != nil {
		return models.PredictionResult{}, err
	}
	sample, err := fc.Sample(idx)
	if err != nil {
		return models.PredictionResult{}, err
	}
	fv, err := features.Build(sample)
	if err != nil {
		return models.PredictionResult{}, err
	}

	res, err := s.score(ctx, fv)
	if err != nil {
		return models.PredictionResult{}, err
	}
	res.PickedTime = ts
	res.Location = &loc
	return res, nil
}

// PredictManual scores a caller-supplied feature vector.
func (s *PredictionService) PredictManual(ctx context.Context, fv models.FeatureVector) (models.PredictionResult, error) {
	res, err := s.predictManual(ctx, fv)
	if err != nil {
		observability.PredictionErrorsTotal.WithLabelValues(string(client.CategorizeError(err))).Inc()
		return models.PredictionResult{}, err
	}
	s.commit(ctx, res, sourceManual)
	return res, nil
}

func (s *PredictionService) predictManual(ctx context.Context, fv models.FeatureVector) (models.PredictionResult, error) {
	if err := validation.Struct(fv); err != nil {
		return models.PredictionResult{}, err
	}
	return s.score(ctx, fv)
}

func (s *PredictionService) score(ctx context.Context, fv models.FeatureVector) (models.PredictionResult, error) {
	start := s.clock.Now()
	p, err := s.predictor.Predict(ctx, fv)
	observability.ModelInferenceDuration.Observe(s.clock.Since(start).Seconds())
	if err != nil {
		return models.PredictionResult{}, err
	}
	bucket, err := risk.Bucket(p.HighRiskProbability)
	if err != nil {
		return models.PredictionResult{}, err
	}
	return models.PredictionResult{
		ID:                  uuid.NewString(),
		Features:            fv,
		HighRiskProbability: p.HighRiskProbability,
		RiskBucket:          bucket,
		HighRiskClass:       p.HighRiskClass,
		Classes:             p.Classes,
		Probabilities:       p.Probabilities,
		PredictedAt:         s.clock.Now().UTC(),
	}, nil
}

func (s *PredictionService) commit(ctx context.Context, res models.PredictionResult, source string) {
	s.store.Save(res)
	observability.PredictionsTotal.WithLabelValues(source, string(res.RiskBucket)).Inc()
	observability.LoggerFromContext(ctx, s.logger).Info("prediction",
		zap.String("id", res.ID),
		zap.String("source", source),
		zap.String("pickedTime", res.PickedTime),
		zap.Float64("highRiskProbability", res.HighRiskProbability),
		zap.String("bucket", string(res.RiskBucket)),
	)
}

// Latest returns the most recent successful prediction, or ErrNoMatch
// before the first one.
func (s *PredictionService) Latest() (models.PredictionResult, error) {
	res, ok := s.store.Latest()
	if !ok {
		return models.PredictionResult{}, fmt.Errorf("%w: no prediction yet", models.ErrNoMatch)
	}
	return res, nil
}

// WarmLocation resolves query and loads the first candidate's forecast into
// the cache. Implements cache.LocationWarmer.
func (s *PredictionService) WarmLocation(ctx context.Context, query string) error {
	locs, err := s.resolver.Resolve(ctx, query)
	if err != nil {
		return err
	}
	if len(locs) == 0 {
		return fmt.Errorf("%w: no %s match for %q", models.ErrNoMatch, s.resolver.Region().Name, strings.TrimSpace(query))
	}
	_, err = s.Forecast(ctx, locs[0])
	return err
}
