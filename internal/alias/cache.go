package alias

import (
	"fmt"

	"github.com/roach88/mlrng/internal/lru"
	"github.com/roach88/mlrng/internal/rng"
)

// Cache holds built tables keyed by their grouping identity, e.g.
// (merchant, utc_day). Tables are immutable so cached values are shared.
type Cache[K comparable, T any] struct {
	tables *lru.Cache[K, *TableOf[T]]
}

// NewCache creates a cache holding at most size tables.
func NewCache[K comparable, T any](size int) (*Cache[K, T], error) {
	c, err := lru.New[K, *TableOf[T]](size)
	if err != nil {
		return nil, fmt.Errorf("alias cache: %w", err)
	}
	return &Cache[K, T]{tables: c}, nil
}

// Get returns the cached table for key.
func (c *Cache[K, T]) Get(key K) (*TableOf[T], bool) {
	return c.tables.Get(key)
}

// Put caches t under key.
func (c *Cache[K, T]) Put(key K, t *TableOf[T]) {
	c.tables.Add(key, t)
}

// GetOrBuild returns the table for key, building it from items on a miss.
// A hit whose source weights differ from items is a fatal
// E_ALIAS_CACHE_MISMATCH: the same identity must always describe the same
// distribution within a run.
func (c *Cache[K, T]) GetOrBuild(key K, items []T, weight func(T) float64) (*TableOf[T], error) {
	if t, ok := c.tables.Get(key); ok {
		return c.check(key, t, items, weight)
	}
	return c.Fill(key, items, weight)
}

// Fill builds and caches the table for key after a Get miss. The lookup
// is not counted again. A table cached concurrently since the miss is
// checked like a GetOrBuild hit.
func (c *Cache[K, T]) Fill(key K, items []T, weight func(T) float64) (*TableOf[T], error) {
	if t, ok := c.tables.Peek(key); ok {
		return c.check(key, t, items, weight)
	}
	t, err := BuildOf(items, weight)
	if err != nil {
		if re, ok := err.(*rng.Error); ok {
			re.Entity = fmt.Sprint(key)
		}
		return nil, err
	}
	c.tables.Add(key, t)
	return t, nil
}

func (c *Cache[K, T]) check(key K, t *TableOf[T], items []T, weight func(T) float64) (*TableOf[T], error) {
	fresh := make([]float64, len(items))
	for i, it := range items {
		fresh[i] = weight(it)
	}
	if digest := WeightsDigest(fresh); digest != t.WeightsDigest() {
		return nil, &rng.Error{
			Code:    rng.ErrCodeAliasCacheMismatch,
			Message: "cached alias table was built from different weights",
			Entity:  fmt.Sprint(key),
			Details: map[string]string{"cached": t.WeightsDigest(), "requested": digest},
		}
	}
	return t, nil
}

// Len returns the number of cached tables.
func (c *Cache[K, T]) Len() int {
	return c.tables.Len()
}

// Stats returns hit, miss and eviction counters.
func (c *Cache[K, T]) Stats() lru.Stats {
	return c.tables.Stats()
}
