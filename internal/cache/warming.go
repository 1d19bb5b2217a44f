package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/weather2go/internal/observability"
)

// DefaultWarmConcurrency bounds parallel upstream fetches while warming.
const DefaultWarmConcurrency = 4

// LocationWarmer is implemented by the service layer: it resolves a place
// name and loads its forecast through the cache. Defined here to avoid a
// circular dependency on the service package.
type LocationWarmer interface {
	WarmLocation(ctx context.Context, query string) error
}

// CacheWarmer prefetches forecasts for a list of tracked places.
type CacheWarmer struct {
	warmer      LocationWarmer
	logger      *zap.Logger
	clock       clockwork.Clock
	concurrency int
}

// NewCacheWarmer creates a CacheWarmer. A nil clock uses the real clock.
func NewCacheWarmer(warmer LocationWarmer, logger *zap.Logger, clock clockwork.Clock, concurrency int) *CacheWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if concurrency <= 0 {
		concurrency = DefaultWarmConcurrency
	}
	return &CacheWarmer{warmer: warmer, logger: logger, clock: clock, concurrency: concurrency}
}

// Warm fetches every location with bounded concurrency. One failure does not
// stop the others; all failures are joined into the returned error.
func (w *CacheWarmer) Warm(ctx context.Context, locations []string) error {
	start := w.clock.Now()
	w.logger.Info("warming cache", zap.Int("locations", len(locations)))

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, loc := range locations {
		g.Go(func() error {
			if err := w.warmer.WarmLocation(gCtx, loc); err != nil {
				observability.CacheWarmTotal.WithLabelValues("error").Inc()
				mu.Lock()
				errs = append(errs, fmt.Errorf("warm %s: %w", loc, err))
				mu.Unlock()
				return nil
			}
			observability.CacheWarmTotal.WithLabelValues("success").Inc()
			return nil
		})
	}
	_ = g.Wait()

	w.logger.Info("cache warming complete",
		zap.Int("locations", len(locations)),
		zap.Int("errors", len(errs)),
		zap.Duration("duration", w.clock.Since(start)),
	)
	if len(errs) > 0 {
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}

// WarmPeriodic runs an initial Warm, then refreshes at the given interval until ctx is done.
func (w *CacheWarmer) WarmPeriodic(ctx context.Context, locations []string, interval time.Duration) error {
	if err := w.Warm(ctx, locations); err != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}
	ticker := w.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			if err := w.Warm(ctx, locations); err != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}
