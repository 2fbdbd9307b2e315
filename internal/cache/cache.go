// Package cache wraps a bounded, TTL-expiring LRU with hit and memory
// accounting for the service's observability surface.
package cache

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Stats is a point-in-time snapshot of one cache.
type Stats struct {
	Name     string  `json:"name"`
	Entries  int     `json:"entries"`
	Hits     uint64  `json:"hits"`
	Misses   uint64  `json:"misses"`
	HitRatio float64 `json:"hit_ratio"`
	// MemoryBytes is an estimate computed from the configured sizer; zero
	// when no sizer was supplied.
	MemoryBytes int64 `json:"memory_bytes"`
}

// Cache is a named LRU with move-to-end-on-access and evict-oldest-on-overflow
// semantics, safe for concurrent use.
type Cache[V any] struct {
	name   string
	lru    *lru.LRU[string, V]
	sizeOf func(V) int

	hits   atomic.Uint64
	misses atomic.Uint64
	bytes  atomic.Int64
}

// New creates a cache holding at most size entries, each expiring after ttl.
// sizeOf may be nil, disabling the memory estimate.
func New[V any](name string, size int, ttl time.Duration, sizeOf func(V) int) *Cache[V] {
	c := &Cache[V]{
		name:   name,
		sizeOf: sizeOf,
	}

	c.lru = lru.NewLRU(size, func(_ string, value V) {
		if c.sizeOf != nil {
			c.bytes.Add(-int64(c.sizeOf(value)))
		}
	}, ttl)

	return c
}

// Get looks the key up, promoting it on a hit.
func (c *Cache[V]) Get(key string) (V, bool) {
	value, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}

	return value, ok
}

// Add inserts or replaces the value for the key, evicting the oldest entry on
// overflow.
func (c *Cache[V]) Add(key string, value V) {
	if c.sizeOf != nil {
		if old, ok := c.lru.Peek(key); ok {
			c.bytes.Add(-int64(c.sizeOf(old)))
		}

		c.bytes.Add(int64(c.sizeOf(value)))
	}

	c.lru.Add(key, value)
}

// Stats snapshots the cache counters.
func (c *Cache[V]) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	ratio := 0.0
	if hits+misses > 0 {
		ratio = float64(hits) / float64(hits+misses)
	}

	return Stats{
		Name:        c.name,
		Entries:     c.lru.Len(),
		Hits:        hits,
		Misses:      misses,
		HitRatio:    ratio,
		MemoryBytes: c.bytes.Load(),
	}
}
