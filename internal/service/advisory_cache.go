package service

import (
	"sync"
	"time"
)

// advisoryCache is a bounded in-process TTL cache shielding the store from
// read amplification under bursty polling. It is strictly advisory: the
// store remains the single source of truth and nothing on the write or
// duplicate-check path ever consults it.
type advisoryCache struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value   interface{}
	expires time.Time
}

func newAdvisoryCache(ttl time.Duration, maxEntries int) *advisoryCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &advisoryCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		entries:    make(map[string]cacheEntry),
	}
}

func (c *advisoryCache) get(key string) (interface{}, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().After(e.expires) {
		return nil, false
	}
	return e.value, true
}

func (c *advisoryCache) set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}
	c.entries[key] = cacheEntry{value: value, expires: c.now().Add(c.ttl)}
}

func (c *advisoryCache) invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// evictLocked drops expired entries first, then an arbitrary entry if the
// cache is still full. Callers hold the write lock.
func (c *advisoryCache) evictLocked() {
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
		}
	}
	if len(c.entries) < c.maxEntries {
		return
	}
	for k := range c.entries {
		delete(c.entries, k)
		return
	}
}
