// Package eta estimates rider travel time for order offers. A routing
// engine is used when configured; straight-line speed otherwise.
package eta

import (
	"fmt"
	"sync"
	"time"

	"github.com/example/rider-dispatch/internal/geo"
	"github.com/example/rider-dispatch/internal/models"
)

// Estimator yields travel seconds between two points.
type Estimator interface {
	EstimateSeconds(from, to models.Coord) (float64, error)
}

// Straightline divides haversine distance by an average city speed.
type Straightline struct {
	SpeedMps float64
}

func (s Straightline) EstimateSeconds(from, to models.Coord) (float64, error) {
	return geo.EstimateSeconds(from, to, s.SpeedMps), nil
}

// Cache is a tiny in-memory cache for ETA lookups keyed by coords.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  float64
	ts time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(a, b models.Coord) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

func fmtCoord(c models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}

// Get returns the cached value and true if present and not expired.
func (c *Cache) Get(a, b models.Coord) (float64, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return 0, false
	}
	return e.v, true
}

func (c *Cache) Set(a, b models.Coord, v float64) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}

// Cached wraps an estimator with a TTL cache. Offer creation hits the
// same restaurant/customer pairs repeatedly during busy hours.
type Cached struct {
	inner Estimator
	cache *Cache
}

func NewCached(inner Estimator, ttl time.Duration) *Cached {
	return &Cached{inner: inner, cache: NewCache(ttl)}
}

func (c *Cached) EstimateSeconds(from, to models.Coord) (float64, error) {
	if v, ok := c.cache.Get(from, to); ok {
		return v, nil
	}
	v, err := c.inner.EstimateSeconds(from, to)
	if err != nil {
		return 0, err
	}
	c.cache.Set(from, to, v)
	return v, nil
}
