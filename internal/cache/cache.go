// Package cache provides a mutex-guarded, size-bounded map with
// insertion-order eviction: when full, the oldest-inserted key is dropped.
// This is deliberately not an LRU — reads do not refresh an entry's position,
// matching the eviction behavior detection results have always had.
package cache

import "sync"

// Bounded is a fixed-capacity cache safe for concurrent use.
type Bounded[K comparable, V any] struct {
	mu      sync.Mutex
	max     int
	entries map[K]V
	order   []K // insertion order, oldest first
}

// New creates a cache holding at most max entries. A max of zero or below
// disables storage entirely (every Get misses).
func New[K comparable, V any](max int) *Bounded[K, V] {
	return &Bounded[K, V]{
		max:     max,
		entries: make(map[K]V),
	}
}

// Get returns the cached value and whether it was present.
func (c *Bounded[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

// Set stores a value. Overwriting an existing key keeps its original
// insertion position. On overflow the oldest-inserted entry is evicted.
func (c *Bounded[K, V]) Set(key K, value V) {
	if c.max <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		c.entries[key] = value
		return
	}

	if len(c.entries) >= c.max {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = value
	c.order = append(c.order, key)
}

// Delete removes a key if present.
func (c *Bounded[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return
	}
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Clear drops every entry.
func (c *Bounded[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]V)
	c.order = nil
}

// Len returns the number of cached entries.
func (c *Bounded[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
