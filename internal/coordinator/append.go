package coordinator

import (
	"time"

	"github.com/durable-streams/core/internal/content"
	"github.com/durable-streams/core/internal/live"
	"github.com/durable-streams/core/internal/offset"
	"github.com/durable-streams/core/internal/storage"
	"github.com/durable-streams/core/internal/waiter"
)

// Create implements PUT, serialized per stream (spec §4.F).
func (r *Registry) Create(path string, opts storage.CreateOptions) (*storage.StreamMeta, bool, error) {
	var meta *storage.StreamMeta
	var created bool
	err := r.withLock(path, func() error {
		var err error
		meta, created, err = r.Store.Create(path, opts)
		return err
	})
	return meta, created, err
}

// Get returns a stream's metadata without taking the write lock.
func (r *Registry) Get(path string) (*storage.StreamMeta, error) {
	return r.Store.Get(path)
}

// AppendResult bundles everything the HTTP handler needs after a
// successful append: the storage outcome, the fresh metadata, and the
// distinct long-poll waiter URLs that are now ready to be pre-cached
// and woken by a subsequent call to PrecacheAndWake.
type AppendResult struct {
	Outcome      storage.AppendOutcome
	Meta         *storage.StreamMeta
	NextOffset   string
	ReadyWaiters []string
}

// Append implements POST (spec §4.E/§4.F/§4.I): validates and commits
// the append, invalidates the read cache, broadcasts to SSE/WebSocket
// subscribers, and returns the set of long-poll waiter URLs ready to be
// pre-cached before PrecacheAndWake actually wakes them.
func (r *Registry) Append(path string, body []byte, opts storage.AppendOptions) (AppendResult, error) {
	var res AppendResult
	err := r.withLock(path, func() error {
		outcome, err := r.Store.Append(path, body, opts)
		if err != nil {
			return err
		}
		meta, err := r.Store.Get(path)
		if err != nil {
			return err
		}
		res.Outcome = outcome
		res.Meta = meta

		if outcome.Duplicate {
			codec := offset.NewCodec(meta.Salt)
			res.NextOffset = codec.Encode(outcome.TailCounter)
			return nil
		}

		r.Reads.Invalidate(path)
		codec := offset.NewCodec(meta.Salt)
		res.NextOffset = codec.Encode(outcome.TailCounter)
		res.ReadyWaiters = r.Waiters.ReadyWaiterURLs(path, outcome.TailCounter)

		if len(outcome.Messages) > 0 {
			r.Hub.Broadcast(path, live.Event{Kind: live.DataEvent, Data: content.Format(meta.Strategy, outcome.Messages)})
		}
		if outcome.Closed {
			r.Hub.CloseStream(path, res.NextOffset)
		} else {
			r.Hub.Broadcast(path, live.Event{Kind: live.ControlEvent, Control: live.ControlPayload{NextOffset: res.NextOffset, UpToDate: true}})
		}
		return nil
	})
	return res, err
}

// PrecacheAndWake fills the long-poll cache for every ready waiter URL
// using render, then wakes the waiter queue with the configured stagger
// (spec §4.H/§4.I ordering: pre-cache before wake).
func (r *Registry) PrecacheAndWake(path string, tail uint64, readyURLs []string, render func(url string) (live.CachedResponse, error)) {
	for _, url := range readyURLs {
		resp, err := render(url)
		if err != nil {
			continue
		}
		r.PollCache.Put(url, resp, secondsToDuration(r.Cfg.LongPollCacheSeconds))
	}
	r.Waiters.Notify(path, tail, r.Cfg.WaiterStagger)
}

// CloseOnly implements a Stream-Closed-only POST with an empty body.
func (r *Registry) CloseOnly(path string) (alreadyClosed bool, res AppendResult, err error) {
	err = r.withLock(path, func() error {
		var meta *storage.StreamMeta
		var innerErr error
		alreadyClosed, meta, innerErr = r.Store.CloseOnly(path)
		if innerErr != nil {
			return innerErr
		}
		res.Meta = meta
		codec := offset.NewCodec(meta.Salt)
		res.NextOffset = codec.Encode(meta.TailCounter)
		if alreadyClosed {
			return nil
		}
		r.Reads.Invalidate(path)
		res.ReadyWaiters = r.Waiters.ReadyWaiterURLs(path, meta.TailCounter)
		r.Hub.CloseStream(path, res.NextOffset)
		return nil
	})
	return alreadyClosed, res, err
}

// Delete implements DELETE: removes the stream, wakes every parked
// waiter so its re-read observes the removal, and disconnects live
// clients without a control frame (spec §4.J).
func (r *Registry) Delete(path string) error {
	return r.withLock(path, func() error {
		if err := r.Store.Delete(path); err != nil {
			return err
		}
		r.Reads.Invalidate(path)
		r.Waiters.NotifyAll(path)
		r.Hub.Disconnect(path)
		return nil
	})
}

// Read serves a bounded, coalesced read (spec §4.G), not under the
// write lock since reads must not serialize behind writes.
func (r *Registry) Read(path string, tail uint64, closed bool, counter uint64, maxChunkBytes int) (storage.ReadResult, error) {
	return r.Reads.Read(path, tail, closed, counter, maxChunkBytes)
}

// Park registers a long-poll waiter for path at target counter. The
// caller must call Cancel once it stops waiting, whether it woke
// naturally, timed out, or the request context was cancelled.
func (r *Registry) Park(path, url string, target uint64) *waiter.Entry {
	return r.Waiters.Park(path, url, target)
}

// Cancel removes a previously parked waiter.
func (r *Registry) Cancel(e *waiter.Entry) {
	r.Waiters.Cancel(e)
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
