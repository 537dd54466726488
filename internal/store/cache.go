package store

import (
	"context"
	"sync"
	"time"

	"idxwatch/pkg/contracts/domain"
)

// DefaultCacheCapacity bounds the local result cache when the configured
// capacity is zero.
const DefaultCacheCapacity = 50

// Cache is a bounded in-memory ResultStore holding the most recently saved
// results. When full, the oldest entry is evicted. All methods are safe for
// concurrent use and never fail, so the cache always satisfies reads during
// a remote outage.
type Cache struct {
	mu       sync.RWMutex
	capacity int
	results  []*domain.Result // oldest first
}

// NewCache creates a cache holding at most capacity results.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &Cache{capacity: capacity}
}

func (c *Cache) Save(_ context.Context, res *domain.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.results = append(c.results, res)
	if len(c.results) > c.capacity {
		c.results = c.results[len(c.results)-c.capacity:]
	}
	return nil
}

func (c *Cache) Recent(_ context.Context, limit int) ([]*domain.Result, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := len(c.results)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*domain.Result, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, c.results[i])
	}
	return out, nil
}

func (c *Cache) Since(_ context.Context, cutoff time.Time) ([]*domain.Result, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*domain.Result
	for i := len(c.results) - 1; i >= 0; i-- {
		if !c.results[i].ExecutedAt.Before(cutoff) {
			out = append(out, c.results[i])
		}
	}
	return out, nil
}

// Len returns the number of cached results.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.results)
}
