// Package local is the in-process cache tier: LRU ordering with a fixed
// capacity and a per-entry time to live.
package local

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/polluted-cities/internal/core/observability"
)

type Config struct {
	TTL      time.Duration
	Capacity int
}

type Option[V any] func(*Cache[V])

// WithClock replaces time.Now, for tests.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *Cache[V]) { c.now = now }
}

// WithClone copies values on the way in and out so callers never share
// memory with the cache.
func WithClone[V any](clone func(V) V) Option[V] {
	return func(c *Cache[V]) { c.clone = clone }
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is safe for concurrent use; the underlying LRU serializes access.
type Cache[V any] struct {
	lru   *lru.Cache[string, entry[V]]
	ttl   time.Duration
	now   func() time.Time
	clone func(V) V
}

func New[V any](cfg Config, opts ...Option[V]) *Cache[V] {
	size := cfg.Capacity
	if size <= 0 {
		size = 1000
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	l, _ := lru.New[string, entry[V]](size)
	c := &Cache[V]{lru: l, ttl: ttl, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the live value for key and marks it most recently used.
// Expired entries are removed and reported as absent.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	e, ok := c.lru.Get(key)
	if !ok {
		observability.IncCacheResult("local", "miss")
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		c.lru.Remove(key)
		observability.IncCacheResult("local", "expired")
		return zero, false
	}
	observability.IncCacheResult("local", "hit")
	return c.copy(e.value), true
}

// Set stores value as most recently used, evicting at most one least
// recently used entry when the capacity is exceeded.
func (c *Cache[V]) Set(key string, value V) {
	c.lru.Add(key, entry[V]{value: c.copy(value), expiresAt: c.now().Add(c.ttl)})
}

func (c *Cache[V]) Delete(key string) {
	c.lru.Remove(key)
}

func (c *Cache[V]) Purge() {
	c.lru.Purge()
}

func (c *Cache[V]) Len() int {
	return c.lru.Len()
}

func (c *Cache[V]) Keys() []string {
	return c.lru.Keys()
}

func (c *Cache[V]) copy(v V) V {
	if c.clone == nil {
		return v
	}
	return c.clone(v)
}
