// Package cache provides a process-wide advisory cache with a fixed TTL.
// It is a performance shortcut, never a correctness dependency: callers must
// treat a cold or cleared cache identically to a miss.
package cache

import (
	"sync"
	"time"
)

const sweepThreshold = 1000

type entry struct {
	value    string
	storedAt time.Time
}

type TTLCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry
	now     func() time.Time // overridable in tests
}

func New(ttl time.Duration) *TTLCache {
	return &TTLCache{
		ttl:     ttl,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get returns the cached value if it is still fresh. Expired entries are
// removed on access.
func (c *TTLCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.now().Sub(e.storedAt) >= c.ttl {
		delete(c.entries, key)
		return "", false
	}
	return e.value, true
}

// Set stores a value. Once the cache grows past the sweep threshold, stale
// entries are evicted opportunistically so growth stays bounded by the
// working set.
func (c *TTLCache) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry{value: value, storedAt: c.now()}

	if len(c.entries) > sweepThreshold {
		now := c.now()
		for k, e := range c.entries {
			if now.Sub(e.storedAt) >= c.ttl {
				delete(c.entries, k)
			}
		}
	}
}

// Clear drops every entry. Safe to call at any time.
func (c *TTLCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
