package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/klauspost/compress/zstd"

	"github.com/kjstillabower/weather2go/internal/models"
)

const keyPrefix = "forecast:"

// MemcachedCache implements Cache using memcached. Values are JSON compressed
// with zstd; a week of hourly data shrinks to a few KB.
type MemcachedCache struct {
	client  *memcache.Client
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &MemcachedCache{client: client, encoder: enc, decoder: dec}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// memcached keys may not contain spaces or control characters and are capped
// at 250 bytes; coordinate keys never come close.
func (c *MemcachedCache) key(k string) string {
	return keyPrefix + k
}

func (c *MemcachedCache) encode(v models.HourlyForecast) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return c.encoder.EncodeAll(raw, make([]byte, 0, len(raw)/4)), nil
}

func (c *MemcachedCache) decode(b []byte) (models.HourlyForecast, error) {
	raw, err := c.decoder.DecodeAll(b, nil)
	if err != nil {
		return models.HourlyForecast{}, fmt.Errorf("decompress cached forecast: %w", err)
	}
	var v models.HourlyForecast
	if err := json.Unmarshal(raw, &v); err != nil {
		return models.HourlyForecast{}, fmt.Errorf("parse cached forecast: %w", err)
	}
	return v, nil
}

// Get implements Cache.Get. Returns false, nil on cache miss; false, err on error.
func (c *MemcachedCache) Get(ctx context.Context, key string) (models.HourlyForecast, bool, error) {
	if ctx.Err() != nil {
		return models.HourlyForecast{}, false, ctx.Err()
	}
	item, err := c.client.Get(c.key(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return models.HourlyForecast{}, false, nil
		}
		return models.HourlyForecast{}, false, err
	}
	v, err := c.decode(item.Value)
	if err != nil {
		return models.HourlyForecast{}, false, err
	}
	return v, true, nil
}

// Set implements Cache.Set.
func (c *MemcachedCache) Set(ctx context.Context, key string, value models.HourlyForecast, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	b, err := c.encode(value)
	if err != nil {
		return err
	}
	return c.client.Set(&memcache.Item{
		Key:        c.key(key),
		Value:      b,
		Expiration: expirationSeconds(ttl),
	})
}

// expirationSeconds converts ttl to memcached's relative expiry. Values above
// 30 days would be read as a unix timestamp, so they fall back to one hour.
func expirationSeconds(ttl time.Duration) int32 {
	const maxRelativeExp = 30 * 24 * 60 * 60
	sec := int64(ttl / time.Second)
	if sec <= 0 || sec > maxRelativeExp {
		return 3600
	}
	return int32(sec)
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	c.decoder.Close()
	if err := c.encoder.Close(); err != nil {
		return err
	}
	return c.client.Close()
}
