package live

import (
	"sync"
	"time"
)

// CachedResponse is a fully-rendered long-poll response body plus the
// headers it was served with.
type CachedResponse struct {
	Status  int
	Body    []byte
	Headers map[string]string
}

// LongPollCache holds pre-rendered long-poll responses keyed by the
// exact request URL that would reproduce them, so that when the
// coordinator wakes a waiter it (or an external CDN sitting in front of
// it) can resolve the repeat request instantly instead of racing a
// fresh read against every other newly-woken waiter (spec §4.H/§4.J
// "pre-cache a long-poll response body ... before resolution").
type LongPollCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	resp    CachedResponse
	expires time.Time
}

// NewLongPollCache returns an empty cache.
func NewLongPollCache() *LongPollCache {
	return &LongPollCache{entries: make(map[string]cacheEntry)}
}

// Put stores resp for url, valid for ttl.
func (c *LongPollCache) Put(url string, resp CachedResponse, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[url] = cacheEntry{resp: resp, expires: time.Now().Add(ttl)}
}

// Get returns the cached response for url, if still fresh.
func (c *LongPollCache) Get(url string) (CachedResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[url]
	if !ok || time.Now().After(e.expires) {
		return CachedResponse{}, false
	}
	return e.resp, true
}
