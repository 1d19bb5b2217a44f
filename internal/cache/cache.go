package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/weather2go/internal/models"
)

// Cache stores hourly forecasts by coordinate key.
// Get returns cached data if present and not expired, Set stores data with TTL.
type Cache interface {
	Get(ctx context.Context, key string) (models.HourlyForecast, bool, error)
	Set(ctx context.Context, key string, value models.HourlyForecast, ttl time.Duration) error
}

// ForecastKey rounds coordinates to 4 decimals (about 11 m), well below the
// forecast grid resolution, so repeat lookups of one place share an entry.
func ForecastKey(lat, lon float64) string {
	return fmt.Sprintf("%.4f,%.4f", lat, lon)
}

// InMemoryCache implements Cache using a map with TTL-based expiration.
// Expired entries are removed on access. Safe for concurrent use.
type InMemoryCache struct {
	mu    sync.Mutex
	clock clockwork.Clock
	data  map[string]cacheEntry
}

type cacheEntry struct {
	value     models.HourlyForecast
	expiresAt time.Time
}

// NewInMemoryCache creates an in-memory cache. A nil clock uses the real clock.
func NewInMemoryCache(clock clockwork.Clock) *InMemoryCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &InMemoryCache{
		clock: clock,
		data:  make(map[string]cacheEntry),
	}
}

// Get returns (data, true, nil) on a hit and (zero, false, nil) on a miss or expiry.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.HourlyForecast, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return models.HourlyForecast{}, false, nil
	}
	if !c.clock.Now().Before(entry.expiresAt) {
		delete(c.data, key)
		return models.HourlyForecast{}, false, nil
	}
	return entry.value, true, nil
}

// Set stores value for ttl.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.HourlyForecast, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: c.clock.Now().Add(ttl),
	}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
