// Package cache provides the in-memory LRU and the Redis-backed byte store
// used for upstream sets, basin datasets and classified rasters.
package cache

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LRU is a concurrent-safe least-recently-used cache with TTL expiration.
type LRU[V any] struct {
	mu         sync.Mutex
	entries    map[string]*lruEntry[V]
	order      []string // front=oldest, back=newest
	maxEntries int
	ttl        time.Duration
	hits       atomic.Int64
	misses     atomic.Int64

	now func() time.Time
}

type lruEntry[V any] struct {
	value     V
	createdAt time.Time
}

// Stats contains cache performance statistics.
type Stats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// NewLRU creates a cache holding at most maxEntries values for ttl each.
// A zero ttl never expires.
func NewLRU[V any](maxEntries int, ttl time.Duration) *LRU[V] {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &LRU[V]{
		entries:    make(map[string]*lruEntry[V]),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Get returns the value for key. Expired entries count as misses.
func (c *LRU[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return zero, false
	}
	if c.ttl > 0 && c.now().Sub(entry.createdAt) > c.ttl {
		delete(c.entries, key)
		c.removeFromOrder(key)
		c.misses.Add(1)
		return zero, false
	}

	c.touch(key)
	c.hits.Add(1)
	return entry.value, true
}

// Put stores value, evicting the least recently used entry when full.
func (c *LRU[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.entries[key] = &lruEntry[V]{value: value, createdAt: c.now()}
		c.touch(key)
		return
	}

	for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[key] = &lruEntry[V]{value: value, createdAt: c.now()}
	c.order = append(c.order, key)
}

// Delete removes one key.
func (c *LRU[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.removeFromOrder(key)
	}
}

// InvalidatePrefix removes every entry whose key starts with prefix and
// returns how many were dropped. An empty prefix clears the cache.
func (c *LRU[V]) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	remaining := c.order[:0]
	dropped := 0
	for _, key := range c.order {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			dropped++
		} else {
			remaining = append(remaining, key)
		}
	}
	c.order = remaining
	return dropped
}

// Len returns the number of live and expired-but-unreaped entries.
func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cache performance statistics.
func (c *LRU[V]) Stats() Stats {
	c.mu.Lock()
	entries := len(c.entries)
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return Stats{
		Entries:    entries,
		MaxEntries: c.maxEntries,
		Hits:       hits,
		Misses:     misses,
		HitRate:    hitRate,
	}
}

func (c *LRU[V]) touch(key string) {
	c.removeFromOrder(key)
	c.order = append(c.order, key)
}

func (c *LRU[V]) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
