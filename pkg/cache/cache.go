// Package cache provides a TTL cache for read-mostly provider catalog data
// (sizes, images, cluster options). Entries carry an explicit fetch
// timestamp; stale entries are refreshed lazily on the next read, and
// concurrent refreshes of the same key are collapsed into one provider call.
package cache

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ebb-cloud/ebb/pkg/metrics"
)

// DefaultTTL matches the provider catalog refresh cadence.
const DefaultTTL = time.Hour

type entry[T any] struct {
	value     T
	fetchedAt time.Time
}

// TTL is a cache whose entries expire a fixed duration after they were
// fetched. Fetch errors are returned to the caller and never cached.
type TTL[T any] struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]entry[T]
	group   singleflight.Group
}

// New creates a TTL cache. A non-positive ttl falls back to DefaultTTL.
func New[T any](ttl time.Duration) *TTL[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TTL[T]{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry[T]),
	}
}

// Get returns the cached value for key if it is still fresh; otherwise it
// invokes fetch, stores the result on success, and returns it. Concurrent
// callers for the same stale key share a single fetch.
func (c *TTL[T]) Get(key string, fetch func() (T, error)) (T, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.now().Sub(e.fetchedAt) < c.ttl {
		c.mu.Unlock()
		metrics.CacheLookups.WithLabelValues(key, "hit").Inc()
		return e.value, nil
	}
	c.mu.Unlock()
	metrics.CacheLookups.WithLabelValues(key, "miss").Inc()

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Re-check under singleflight: a concurrent caller may have
		// refreshed the entry while this one waited.
		c.mu.Lock()
		if e, ok := c.entries[key]; ok && c.now().Sub(e.fetchedAt) < c.ttl {
			c.mu.Unlock()
			return e.value, nil
		}
		c.mu.Unlock()

		value, err := fetch()
		if err != nil {
			return value, err
		}

		c.mu.Lock()
		c.entries[key] = entry[T]{value: value, fetchedAt: c.now()}
		c.mu.Unlock()
		return value, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Invalidate drops the entry for key, forcing the next Get to fetch.
func (c *TTL[T]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}
