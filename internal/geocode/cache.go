package geocode

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mr1hm/go-quake-forecast/internal/observability"
)

// Cached wraps a Geocoder with an in-memory LRU cache keyed by rounded
// coordinates. Failures are not cached so they can be retried.
type Cached struct {
	inner   Geocoder
	cache   *lru.Cache[string, Result]
	metrics *observability.Metrics
}

func NewCached(inner Geocoder, maxEntries int, metrics *observability.Metrics) (*Cached, error) {
	cache, err := lru.New[string, Result](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("create geocode cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache, metrics: metrics}, nil
}

func (c *Cached) ReverseGeocode(ctx context.Context, lat, lon float64) (Result, error) {
	key := fmt.Sprintf("%.4f,%.4f", lat, lon)
	if r, ok := c.cache.Get(key); ok {
		c.metrics.GeocodeCache.WithLabelValues("hit").Inc()
		return r, nil
	}
	c.metrics.GeocodeCache.WithLabelValues("miss").Inc()

	r, err := c.inner.ReverseGeocode(ctx, lat, lon)
	if err != nil {
		return r, err
	}
	c.cache.Add(key, r)
	return r, nil
}

func (c *Cached) Len() int { return c.cache.Len() }
