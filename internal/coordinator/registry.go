// Package coordinator composes storage, the read path, the waiter
// queue, and live delivery into one per-stream runtime (spec component
// J): it serializes every write for a given stream id, and is the
// single place that knows how an append fans out into a cache
// pre-warm, a waiter wake-up, and an SSE/WebSocket broadcast.
package coordinator

import (
	"sync"
	"time"

	"github.com/durable-streams/core/internal/live"
	"github.com/durable-streams/core/internal/readpath"
	"github.com/durable-streams/core/internal/storage"
	"github.com/durable-streams/core/internal/waiter"
)

// Coordinator is the logical actor for one stream id: its mutex
// serializes PUT/POST/DELETE against that one path so total ordering
// holds even under concurrent requests (spec §4.J).
type Coordinator struct {
	mu         sync.Mutex
	lastActive time.Time
}

// Registry owns the shared storage engine and live-delivery
// infrastructure and hands out per-path Coordinators on demand.
type Registry struct {
	Store     *storage.Store
	Waiters   *waiter.Queue
	Reads     *readpath.Path
	Hub       *live.Hub
	PollCache *live.LongPollCache
	Cfg       Config

	mu      sync.Mutex
	coords  map[string]*Coordinator
	stopCh  chan struct{}
	stopped bool
}

// NewRegistry wires a storage engine into a full coordinator registry
// and starts its idle-eviction sweep.
func NewRegistry(store *storage.Store, cfg Config) *Registry {
	r := &Registry{
		Store:     store,
		Waiters:   waiter.New(),
		Reads:     readpath.New(store, cfg.ReadCoalesceWindow),
		Hub:       live.NewHub(),
		PollCache: live.NewLongPollCache(),
		Cfg:       cfg,
		coords:    make(map[string]*Coordinator),
		stopCh:    make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

// Close stops the idle sweep and the underlying storage engine.
func (r *Registry) Close() error {
	r.mu.Lock()
	if !r.stopped {
		r.stopped = true
		close(r.stopCh)
	}
	r.mu.Unlock()
	return r.Store.Close()
}

func (r *Registry) sweepLoop() {
	interval := r.Cfg.IdleEvictAfter / 4
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.evictIdle()
		}
	}
}

func (r *Registry) evictIdle() {
	cutoff := time.Now().Add(-r.Cfg.IdleEvictAfter)
	r.mu.Lock()
	defer r.mu.Unlock()
	for path, c := range r.coords {
		c.mu.Lock()
		idle := c.lastActive.Before(cutoff)
		c.mu.Unlock()
		if idle && r.Hub.ActiveCount(path) == 0 {
			delete(r.coords, path)
		}
	}
}

// coordinatorFor returns the Coordinator for path, creating one on
// first use.
func (r *Registry) coordinatorFor(path string) *Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coords[path]
	if !ok {
		c = &Coordinator{lastActive: time.Now()}
		r.coords[path] = c
	}
	return c
}

// withLock serializes fn against every other write for path.
func (r *Registry) withLock(path string, fn func() error) error {
	c := r.coordinatorFor(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActive = time.Now()
	return fn()
}
