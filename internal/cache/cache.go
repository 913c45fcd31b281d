package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/neexbeast/cityrank/internal/metrics"
	"github.com/neexbeast/cityrank/internal/weather"
)

// Provider is the two-step weather lookup the cache memoizes.
// *weather.Client satisfies this interface.
type Provider interface {
	Search(ctx context.Context, query string) ([]weather.SearchResult, error)
	Detail(ctx context.Context, locationID int64) ([]weather.Observation, error)
}

// WeatherCache memoizes provider lookups per city name, negative results
// included. Transport failures are returned and never cached.
type WeatherCache struct {
	provider Provider
	store    Store
	group    singleflight.Group
	log      *slog.Logger
}

// NewWeatherCache constructs a WeatherCache over the given provider and store.
func NewWeatherCache(provider Provider, store Store, log *slog.Logger) *WeatherCache {
	return &WeatherCache{provider: provider, store: store, log: log}
}

// key returns the cache key for the given city.
func key(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}

// Get returns the latest observation for name.
// Returns nil, nil when the provider confirmed there is no data.
func (c *WeatherCache) Get(ctx context.Context, name string) (*weather.Record, error) {
	k := key(name)

	rec, found, err := c.store.Lookup(ctx, k)
	if err != nil {
		c.log.Warn("weather cache lookup failed", "city", k, "err", err)
	}
	if found {
		metrics.CacheHits.Inc()
		return rec, nil
	}
	metrics.CacheMisses.Inc()

	// Concurrent misses for one key share a single provider round trip. The
	// shared fetch must not die with whichever caller happened to start it.
	ch := c.group.DoChan(k, func() (any, error) {
		return c.fetch(context.WithoutCancel(ctx), k)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("weather lookup for %s: %w", k, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*weather.Record), nil
	}
}

func (c *WeatherCache) fetch(ctx context.Context, k string) (*weather.Record, error) {
	candidates, err := c.provider.Search(ctx, k)
	if err != nil {
		return nil, fmt.Errorf("searching location for %s: %w", k, err)
	}
	if len(candidates) == 0 {
		c.log.Warn("unknown location", "city", k)
		c.save(ctx, k, nil)
		return nil, nil
	}

	best := candidates[0]
	observations, err := c.provider.Detail(ctx, best.LocationID)
	if err != nil {
		return nil, fmt.Errorf("fetching weather for %s (woeid=%d): %w", k, best.LocationID, err)
	}
	if len(observations) == 0 {
		c.log.Error("no weather data for location", "city", k, "woeid", best.LocationID)
		c.save(ctx, k, nil)
		return nil, nil
	}

	latest, err := weather.Latest(observations)
	if err != nil {
		return nil, fmt.Errorf("%w: weather for %s (woeid=%d): %w", weather.ErrTransport, k, best.LocationID, err)
	}

	c.save(ctx, k, &latest)
	return &latest, nil
}

func (c *WeatherCache) save(ctx context.Context, k string, rec *weather.Record) {
	if err := c.store.Save(ctx, k, rec); err != nil {
		c.log.Warn("weather cache save failed", "city", k, "err", err)
	}
}

// Flush drops every entry, negative ones included.
func (c *WeatherCache) Flush(ctx context.Context) error {
	if err := c.store.Flush(ctx); err != nil {
		return fmt.Errorf("flushing weather cache: %w", err)
	}
	metrics.CacheFlushes.Inc()
	c.log.Info("weather cache flushed")
	return nil
}

// Ping checks the backing store.
func (c *WeatherCache) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}
