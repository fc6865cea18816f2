// Package recency is the bounded in-memory fast path in front of the
// persistent cache store.
package recency

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is a fixed-capacity LRU keyed by cache hash. Lookups through Get do
// not change recency order; only Touch and Put promote. It is safe for
// concurrent use.
type Cache[V any] struct {
	lru       *lru.Cache[string, V]
	capacity  int
	evictions atomic.Int64
}

// New creates a cache holding at most capacity entries.
func New[V any](capacity int) (*Cache[V], error) {
	l, err := lru.New[string, V](capacity)
	if err != nil {
		return nil, fmt.Errorf("creating recency cache: %w", err)
	}
	return &Cache[V]{lru: l, capacity: capacity}, nil
}

// Get returns the entry for key without promoting it.
func (c *Cache[V]) Get(key string) (V, bool) {
	return c.lru.Peek(key)
}

// Touch returns the entry for key and moves it to the most-recently-used position.
func (c *Cache[V]) Touch(key string) (V, bool) {
	return c.lru.Get(key)
}

// Put inserts or replaces the entry for key as most recently used, evicting
// the least recently used entry when over capacity.
func (c *Cache[V]) Put(key string, v V) {
	if c.lru.Add(key, v) {
		c.evictions.Add(1)
	}
}

// Remove drops key if present.
func (c *Cache[V]) Remove(key string) bool {
	return c.lru.Remove(key)
}

// RemoveIf drops every entry matching pred and returns how many were removed.
func (c *Cache[V]) RemoveIf(pred func(key string, v V) bool) int {
	n := 0
	for _, k := range c.lru.Keys() {
		v, ok := c.lru.Peek(k)
		if ok && pred(k, v) && c.lru.Remove(k) {
			n++
		}
	}
	return n
}

// Keys returns the cached keys from least to most recently used.
func (c *Cache[V]) Keys() []string {
	return c.lru.Keys()
}

// Len returns the number of cached entries.
func (c *Cache[V]) Len() int {
	return c.lru.Len()
}

// Capacity returns the fixed maximum size.
func (c *Cache[V]) Capacity() int {
	return c.capacity
}

// Evictions returns how many entries were pushed out by capacity pressure.
func (c *Cache[V]) Evictions() int64 {
	return c.evictions.Load()
}

// Clear empties the cache.
func (c *Cache[V]) Clear() {
	c.lru.Purge()
}
