// Package cache wraps a bounded LRU with hit/miss accounting.
package cache

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is a fixed-capacity LRU. Safe for concurrent use.
type Cache[K comparable, V any] struct {
	lru    *lru.Cache[K, V]
	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a cache holding at most size entries.
func New[K comparable, V any](size int) (*Cache[K, V], error) {
	inner, err := lru.New[K, V](size)
	if err != nil {
		return nil, fmt.Errorf("create LRU cache: %w", err)
	}
	return &Cache[K, V]{lru: inner}, nil
}

// Get retrieves a value, recording a hit or miss.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Add stores a value, evicting the least recently used entry when full.
func (c *Cache[K, V]) Add(key K, v V) {
	c.lru.Add(key, v)
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int { return c.lru.Len() }

// Stats returns cumulative hit and miss counts.
func (c *Cache[K, V]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
