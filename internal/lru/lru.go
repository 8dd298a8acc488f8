// Package lru provides the bounded caches used for alias tables.
//
// It wraps hashicorp/golang-lru with eviction accounting so callers can
// report hit, miss and eviction counts at the end of a run.
package lru

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Stats counts cache traffic since creation.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Cache is a bounded least-recently-used map. It is safe for concurrent use.
type Cache[K comparable, V any] struct {
	inner     *lru.Cache[K, V]
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// New creates a cache holding at most size entries. size must be positive.
func New[K comparable, V any](size int) (*Cache[K, V], error) {
	if size <= 0 {
		return nil, fmt.Errorf("lru: size must be positive, got %d", size)
	}
	c := &Cache[K, V]{}
	inner, err := lru.NewWithEvict[K, V](size, func(K, V) {
		c.evictions.Add(1)
	})
	if err != nil {
		return nil, fmt.Errorf("lru: %w", err)
	}
	c.inner = inner
	return c, nil
}

// Get returns the value for key and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	v, ok := c.inner.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Peek returns the value for key without counting a hit or miss and
// without touching recency.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	return c.inner.Peek(key)
}

// Add inserts or replaces key. Returns true if an older entry was evicted.
func (c *Cache[K, V]) Add(key K, value V) bool {
	return c.inner.Add(key, value)
}

// Contains reports whether key is cached without touching recency.
func (c *Cache[K, V]) Contains(key K) bool {
	return c.inner.Contains(key)
}

// Keys returns cached keys from oldest to newest.
func (c *Cache[K, V]) Keys() []K {
	return c.inner.Keys()
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	return c.inner.Len()
}

// Stats returns a snapshot of the traffic counters.
func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}
