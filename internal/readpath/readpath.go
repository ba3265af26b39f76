// Package readpath implements the bounded, coalesced read path (spec
// component G): resolve a client's opaque offset (or the `now`
// literal) against the current tail, then serve a bounded window of
// messages with short-lived result caching and in-flight dedup so a
// burst of identical long-poll/SSE catch-up reads collapses into one
// storage read.
package readpath

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/durable-streams/core/internal/offset"
	"github.com/durable-streams/core/internal/storage"
)

// DefaultCoalesceWindow matches the teacher's dedup-friendly read
// cadence; see spec §3 `read-coalesce-window`.
const DefaultCoalesceWindow = 25 * time.Millisecond

// Resolved is the result of resolving a client-supplied offset string
// against a stream's current state.
type Resolved struct {
	Counter  uint64
	IsNow    bool
	NoStore  bool // `now` reads must never be cached (spec §4.G)
}

// ResolveOffset parses raw against codec and pins a `now` literal to the
// stream's current tail counter.
func ResolveOffset(raw string, codec offset.Codec, tail uint64) (Resolved, error) {
	parsed, err := offset.Parse(raw, codec)
	if err != nil {
		return Resolved{}, err
	}
	if parsed.Kind == offset.LiteralNow {
		return Resolved{Counter: tail, IsNow: true, NoStore: true}, nil
	}
	return Resolved{Counter: parsed.Counter}, nil
}

type cacheEntry struct {
	result  storage.ReadResult
	expires time.Time
}

type cacheKey struct {
	path          string
	tail          uint64
	closed        bool
	offset        uint64
	maxChunkBytes int
}

// Path is a thin, coalescing wrapper around Store reads. One Path is
// shared by the whole coordinator registry, so its cache and in-flight
// keys include the stream path.
type Path struct {
	store  *storage.Store
	window time.Duration

	mu    sync.Mutex
	cache map[cacheKey]cacheEntry
	group singleflight.Group
}

// New builds a read path over store with the given coalesce window
// (DefaultCoalesceWindow when window is zero or negative).
func New(store *storage.Store, window time.Duration) *Path {
	if window <= 0 {
		window = DefaultCoalesceWindow
	}
	return &Path{store: store, window: window, cache: make(map[cacheKey]cacheEntry)}
}

// Read serves a bounded window starting at counter, deduplicating
// concurrent identical reads and reusing a result already computed
// within the coalesce window for the given (path, tail, closed,
// offset, maxChunkBytes) tuple (spec §4.G).
func (p *Path) Read(path string, tail uint64, closed bool, counter uint64, maxChunkBytes int) (storage.ReadResult, error) {
	key := cacheKey{path: path, tail: tail, closed: closed, offset: counter, maxChunkBytes: maxChunkBytes}

	p.mu.Lock()
	if entry, ok := p.cache[key]; ok && time.Now().Before(entry.expires) {
		p.mu.Unlock()
		return entry.result, nil
	}
	p.mu.Unlock()

	groupKey := fmt.Sprintf("%s|%d|%t|%d|%d", path, tail, closed, counter, maxChunkBytes)
	v, err, _ := p.group.Do(groupKey, func() (interface{}, error) {
		res, err := p.store.ReadWindow(path, counter, maxChunkBytes)
		if err != nil {
			return storage.ReadResult{}, err
		}
		p.mu.Lock()
		p.cache[key] = cacheEntry{result: res, expires: time.Now().Add(p.window)}
		p.mu.Unlock()
		return res, nil
	})
	if err != nil {
		return storage.ReadResult{}, err
	}
	return v.(storage.ReadResult), nil
}

// Invalidate drops any cached read results for path, called after an
// append commits so the next read observes the new tail instead of a
// stale coalesced result.
func (p *Path) Invalidate(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k := range p.cache {
		if k.path == path {
			delete(p.cache, k)
		}
	}
}
