package storage

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/durable-streams/core/internal/content"
	"github.com/durable-streams/core/internal/offset"
	"github.com/durable-streams/core/internal/producer"
	"github.com/durable-streams/core/internal/segment"
)

// RotationConfig controls when an open stream's hot segment is promoted
// to cold storage (spec §3 Segment rotation, Open Question resolved in
// DESIGN.md).
type RotationConfig struct {
	MaxSegmentBytes    int
	MaxSegmentMessages int
}

// DefaultRotationConfig is the default segment threshold: 8 MiB of
// encoded hot messages or 10,000 messages, whichever is reached first.
var DefaultRotationConfig = RotationConfig{
	MaxSegmentBytes:    8 * 1024 * 1024,
	MaxSegmentMessages: 10000,
}

// Store is the hot/cold storage engine backing one Caddy handler
// instance, generic over the KV and BlobStore implementations it is
// constructed with (spec component C).
type Store struct {
	kv    KV
	blobs BlobStore
	cfg   RotationConfig
}

// New wires a KV metadata backend and a BlobStore cold-object backend
// into a Store.
func New(kv KV, blobs BlobStore, cfg RotationConfig) *Store {
	if cfg.MaxSegmentBytes <= 0 {
		cfg = DefaultRotationConfig
	}
	return &Store{kv: kv, blobs: blobs, cfg: cfg}
}

func (s *Store) Close() error {
	kvErr := s.kv.Close()
	blobErr := s.blobs.Close()
	if kvErr != nil {
		return kvErr
	}
	return blobErr
}

// Create implements PUT (spec §4.F). It returns the resulting metadata
// and whether a new stream was created (false on idempotent re-PUT of an
// identical existing config).
func (s *Store) Create(path string, opts CreateOptions) (*StreamMeta, bool, error) {
	var meta *StreamMeta
	var created bool
	var rotatedBlobKey string
	var rotatedPayload []byte
	now := time.Now()

	err := s.kv.Mutate(path, func(current []byte, exists bool) ([]byte, bool, error) {
		if exists {
			d, err := decodeDoc(current)
			if err != nil {
				return nil, false, err
			}
			if !d.toMeta().ConfigMatches(opts) {
				return nil, false, ErrConfigMismatch
			}
			created = false
			meta = d.toMeta()
			return current, false, nil
		}

		created = true
		d := &persistedStream{
			Path:            path,
			ContentType:     content.Normalize(opts.ContentType),
			CreatedAtUnixMs: now.UnixMilli(),
			TTLSeconds:      opts.TTLSeconds,
			ExpiresAtUnixMs: msPtr(opts.ExpiresAt),
			Salt:            offset.NewSalt(),
			LastWriteMs:     now.UnixMilli(),
		}
		if len(opts.InitialData) > 0 {
			strategy := content.StrategyFor(d.ContentType)
			msgs, err := content.SplitAppend(strategy, opts.InitialData, true)
			if err != nil {
				return nil, false, err
			}
			d.HotMessages = append(d.HotMessages, msgs...)
			d.TailCounter += messageAdvance(strategy, msgs)
		}
		if opts.Close {
			d.Closed = true
			t := now.UnixMilli()
			d.ClosedAtUnixMs = &t
		}

		key, enc, rerr := s.maybeRotate(d, path, d.Closed)
		if rerr != nil {
			return nil, false, rerr
		}
		rotatedBlobKey, rotatedPayload = key, enc

		next, err := encodeDoc(d)
		if err != nil {
			return nil, false, err
		}
		meta = d.toMeta()
		return next, false, nil
	})
	if err != nil {
		return nil, false, err
	}
	if rotatedBlobKey != "" {
		if err := s.blobs.Put(rotatedBlobKey, rotatedPayload); err != nil {
			return nil, false, fmt.Errorf("storage: segment rotation blob put failed: %w", err)
		}
	}
	return meta, created, nil
}

// Get returns a stream's current metadata.
func (s *Store) Get(path string) (*StreamMeta, error) {
	raw, ok, err := s.kv.Get(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrStreamNotFound
	}
	d, err := decodeDoc(raw)
	if err != nil {
		return nil, err
	}
	return d.toMeta(), nil
}

// Delete removes a stream and all of its cold segments.
func (s *Store) Delete(path string) error {
	raw, ok, err := s.kv.Get(path)
	if err != nil {
		return err
	}
	if !ok {
		return ErrStreamNotFound
	}
	d, err := decodeDoc(raw)
	if err != nil {
		return err
	}
	for _, seg := range d.SegmentIndex {
		_ = s.blobs.Put(seg.BlobKey, nil) // best-effort tombstone; blob GC is out of scope
	}
	return s.kv.Mutate(path, func(current []byte, exists bool) ([]byte, bool, error) {
		if !exists {
			return nil, false, ErrStreamNotFound
		}
		return nil, true, nil
	})
}

// maybeRotate promotes the hot segment to cold storage when it crosses
// the configured size/count threshold, or unconditionally when closing
// forces a rotation (spec §4.F: a close, a TTL-driven rotation, or a
// size/count threshold). A stream with no hot messages has nothing to
// rotate regardless of why rotation was requested.
func (s *Store) maybeRotate(d *persistedStream, path string, closing bool) (blobKey string, payload []byte, err error) {
	overThreshold := d.hotBytes() >= s.cfg.MaxSegmentBytes || len(d.HotMessages) >= s.cfg.MaxSegmentMessages
	if (!overThreshold && !closing) || len(d.HotMessages) == 0 {
		return "", nil, nil
	}
	enc, err := segment.Encode(d.HotMessages)
	if err != nil {
		return "", nil, err
	}
	key := fmt.Sprintf("%s/%016x-%016x-%s", path, d.SegmentStart, d.TailCounter, uuid.NewString())
	d.SegmentIndex = append(d.SegmentIndex, SegmentRef{StartCounter: d.SegmentStart, EndCounter: d.TailCounter, BlobKey: key})
	d.SegmentStart = d.TailCounter
	d.HotMessages = nil
	return key, enc, nil
}

func messageAdvance(strategy content.Strategy, msgs [][]byte) uint64 {
	if strategy == content.JSON {
		return uint64(len(msgs))
	}
	var total uint64
	for _, m := range msgs {
		total += uint64(len(m))
	}
	return total
}

// Append implements POST (spec §4.E, §4.F): validates Stream-Seq and the
// producer cursor, appends the body's messages, optionally closes the
// stream, and rotates the hot segment to cold storage when it crosses
// the configured threshold. The whole operation commits atomically via
// a single KV.Mutate call.
func (s *Store) Append(path string, body []byte, opts AppendOptions) (AppendOutcome, error) {
	var outcome AppendOutcome
	now := time.Now()

	err := s.kv.Mutate(path, func(current []byte, exists bool) ([]byte, bool, error) {
		if !exists {
			return nil, false, ErrStreamNotFound
		}
		d, err := decodeDoc(current)
		if err != nil {
			return nil, false, err
		}
		if d.Closed {
			return nil, false, ErrStreamClosed
		}
		if !content.Matches(d.ContentType, opts.ContentType) && len(body) > 0 {
			return nil, false, ErrContentTypeMismatch
		}

		if opts.Producer != nil {
			cur := d.producerState(opts.Producer.ID)
			res, err := producer.Evaluate(cur, *opts.Producer, now)
			if err != nil {
				return nil, false, &ProducerConflictError{Err: err, ExpectedSeq: res.ExpectedSeq, ReceivedSeq: res.ReceivedSeq, CurrentEpoch: res.CurrentEpoch}
			}
			if res.Outcome == producer.Duplicate {
				outcome = AppendOutcome{TailCounter: d.TailCounter, Duplicate: true, ProducerLastSeq: res.LastSeq, Closed: d.Closed}
				return current, false, nil
			}
			d.setProducerState(opts.Producer.ID, res.NextState)
		}

		if opts.StreamSeq != nil {
			if d.LastStreamSeq != nil && *opts.StreamSeq <= *d.LastStreamSeq {
				return nil, false, ErrStreamSeqRegression
			}
			v := *opts.StreamSeq
			d.LastStreamSeq = &v
		}

		strategy := content.StrategyFor(d.ContentType)
		var appended [][]byte
		if len(body) > 0 {
			msgs, err := content.SplitAppend(strategy, body, false)
			if err != nil {
				return nil, false, err
			}
			appended = msgs
			d.HotMessages = append(d.HotMessages, msgs...)
			d.TailCounter += messageAdvance(strategy, msgs)
		}
		if opts.Close {
			d.Closed = true
			t := now.UnixMilli()
			d.ClosedAtUnixMs = &t
		}
		d.LastWriteMs = now.UnixMilli()

		key, enc, rerr := s.maybeRotate(d, path, d.Closed)
		if rerr != nil {
			return nil, false, rerr
		}
		if key != "" {
			if err := s.blobs.Put(key, enc); err != nil {
				return nil, false, fmt.Errorf("storage: segment rotation blob put failed: %w", err)
			}
		}

		next, err := encodeDoc(d)
		if err != nil {
			return nil, false, err
		}
		outcome = AppendOutcome{TailCounter: d.TailCounter, ProducerLastSeq: lastSeqOf(opts, d), Closed: d.Closed, WriteTime: now, Messages: appended}
		return next, false, nil
	})
	if err != nil {
		return AppendOutcome{}, err
	}
	return outcome, nil
}

// ProducerConflictError wraps a producer cursor rejection with the
// diagnostic fields the HTTP boundary echoes on a 409 (spec §4.E):
// Producer-Expected-Seq/Producer-Received-Seq on a sequence gap.
type ProducerConflictError struct {
	Err          error
	ExpectedSeq  int64
	ReceivedSeq  int64
	CurrentEpoch int64
}

func (e *ProducerConflictError) Error() string { return e.Err.Error() }
func (e *ProducerConflictError) Unwrap() error { return e.Err }

func lastSeqOf(opts AppendOptions, d *persistedStream) int64 {
	if opts.Producer == nil {
		return 0
	}
	if st := d.producerState(opts.Producer.ID); st != nil {
		return st.LastSeq
	}
	return 0
}

// CloseOnly implements a Stream-Closed-only POST with no body (spec
// §4.F). alreadyClosed distinguishes a no-op replay from a fresh close.
func (s *Store) CloseOnly(path string) (alreadyClosed bool, meta *StreamMeta, err error) {
	now := time.Now()
	var rotatedBlobKey string
	var rotatedPayload []byte
	err = s.kv.Mutate(path, func(current []byte, exists bool) ([]byte, bool, error) {
		if !exists {
			return nil, false, ErrStreamNotFound
		}
		d, derr := decodeDoc(current)
		if derr != nil {
			return nil, false, derr
		}
		if d.Closed {
			alreadyClosed = true
			meta = d.toMeta()
			return current, false, nil
		}
		d.Closed = true
		t := now.UnixMilli()
		d.ClosedAtUnixMs = &t
		d.LastWriteMs = now.UnixMilli()

		key, enc, rerr := s.maybeRotate(d, path, true)
		if rerr != nil {
			return nil, false, rerr
		}
		rotatedBlobKey, rotatedPayload = key, enc

		next, err := encodeDoc(d)
		if err != nil {
			return nil, false, err
		}
		meta = d.toMeta()
		return next, false, nil
	})
	if err != nil {
		return alreadyClosed, meta, err
	}
	if rotatedBlobKey != "" {
		if err := s.blobs.Put(rotatedBlobKey, rotatedPayload); err != nil {
			return alreadyClosed, meta, fmt.Errorf("storage: segment rotation blob put failed: %w", err)
		}
	}
	return alreadyClosed, meta, nil
}

// ReadWindow resolves the tier (hot or cold) for counter and returns a
// bounded window of messages starting there (spec §4.G resolve-tier and
// Read).
func (s *Store) ReadWindow(path string, counter uint64, maxChunkBytes int) (ReadResult, error) {
	raw, ok, err := s.kv.Get(path)
	if err != nil {
		return ReadResult{}, err
	}
	if !ok {
		return ReadResult{}, ErrStreamNotFound
	}
	d, err := decodeDoc(raw)
	if err != nil {
		return ReadResult{}, err
	}
	strategy := content.StrategyFor(d.ContentType)
	isJSON := strategy == content.JSON

	if counter > d.TailCounter {
		counter = d.TailCounter
	}

	if counter >= d.SegmentStart {
		out, start := segment.Select(d.HotMessages, counter, d.SegmentStart, maxChunkBytes, isJSON)
		next := nextCounter(start, out, strategy)
		return ReadResult{
			Messages:       out,
			NextCounter:    next,
			UpToDate:       next >= d.TailCounter,
			ClosedAtTail:   d.Closed && next >= d.TailCounter,
			HasData:        len(out) > 0,
			WriteTimestamp: time.UnixMilli(d.LastWriteMs),
		}, nil
	}

	// Cold tier: find the segment covering counter.
	for _, seg := range d.SegmentIndex {
		if counter >= seg.StartCounter && counter < seg.EndCounter {
			blob, err := s.blobs.Get(seg.BlobKey)
			if err != nil {
				return ReadResult{}, fmt.Errorf("%w: %s", ErrSegmentMissing, seg.BlobKey)
			}
			records, _, err := segment.Decode(blob)
			if err != nil {
				return ReadResult{}, fmt.Errorf("%w: %s: %v", ErrSegmentMissing, seg.BlobKey, err)
			}
			out, start := segment.Select(records, counter, seg.StartCounter, maxChunkBytes, isJSON)
			next := nextCounter(start, out, strategy)
			return ReadResult{
				Messages:       out,
				NextCounter:    next,
				UpToDate:       next >= d.TailCounter,
				ClosedAtTail:   d.Closed && next >= d.TailCounter,
				HasData:        len(out) > 0,
				WriteTimestamp: time.UnixMilli(d.LastWriteMs),
			}, nil
		}
	}

	// counter sits on a segment boundary covered by neither a segment nor
	// the hot tier (e.g. an empty segment was never created there). This
	// is only reachable if segment_start bookkeeping and counter are both
	// consistent, so treat it as a valid, currently-empty boundary.
	return ReadResult{Gap: true, NextCounter: counter, WriteTimestamp: time.UnixMilli(d.LastWriteMs)}, nil
}

func nextCounter(start uint64, out [][]byte, strategy content.Strategy) uint64 {
	if strategy == content.JSON {
		return start + uint64(len(out))
	}
	var total uint64
	for _, m := range out {
		total += uint64(len(m))
	}
	return start + total
}

// SegmentIndex returns the full cold segment index for a stream.
func (s *Store) SegmentIndex(path string) ([]SegmentRef, error) {
	raw, ok, err := s.kv.Get(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrStreamNotFound
	}
	d, err := decodeDoc(raw)
	if err != nil {
		return nil, err
	}
	return d.SegmentIndex, nil
}

// ForEachPath iterates all known stream paths with their metadata.
func (s *Store) ForEachPath(fn func(path string, meta *StreamMeta) error) error {
	return s.kv.ForEach(func(path string, data []byte) error {
		d, err := decodeDoc(data)
		if err != nil {
			return err
		}
		return fn(path, d.toMeta())
	})
}
