// Package cache provides a small in-process cache with a capacity bound and
// TTL eviction. It replaces ambient global object caches: each service gets
// its own instance injected, and the eviction contract is explicit —
// expired entries are dropped on read, and once the cache overflows its
// capacity the oldest-accessed entries are evicted first.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value      V
	storedAt   time.Time
	accessedAt time.Time
}

// Cache is a bounded TTL cache safe for concurrent use
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[K]*entry[V]
	now      func() time.Time
}

// New creates a cache holding at most capacity entries, each valid for ttl.
// capacity <= 0 means unbounded; ttl <= 0 means entries never expire.
func New[K comparable, V any](capacity int, ttl time.Duration) *Cache[K, V] {
	return &Cache[K, V]{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[K]*entry[V]),
		now:      time.Now,
	}
}

// Get returns the cached value and refreshes its access time. Expired
// entries are removed and reported as absent.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}

	now := c.now()
	if c.ttl > 0 && now.Sub(e.storedAt) > c.ttl {
		delete(c.items, key)
		var zero V
		return zero, false
	}

	e.accessedAt = now
	return e.value, true
}

// Put stores a value, evicting oldest-accessed entries when over capacity
func (c *Cache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.items[key] = &entry[V]{value: value, storedAt: now, accessedAt: now}

	if c.capacity > 0 && len(c.items) > c.capacity {
		c.evictLocked()
	}
}

// evictLocked removes oldest-accessed entries until within capacity. If the
// cache has somehow grown past twice its capacity, it is cleared outright
// rather than evicted entry by entry.
func (c *Cache[K, V]) evictLocked() {
	if len(c.items) > c.capacity*2 {
		c.items = make(map[K]*entry[V])
		return
	}

	for len(c.items) > c.capacity {
		var oldestKey K
		var oldest time.Time
		first := true
		for k, e := range c.items {
			if first || e.accessedAt.Before(oldest) {
				oldestKey = k
				oldest = e.accessedAt
				first = false
			}
		}
		delete(c.items, oldestKey)
	}
}

// Remove drops a single entry
func (c *Cache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Clear drops every entry
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*entry[V])
}

// Len returns the current entry count
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
