// Package storage implements the storage interface (spec component C):
// hot-tier stream metadata, producer state, and segment index, plus
// cold-object get/put, behind a pluggable KV/BlobStore pair so the core
// can run on bbolt, LMDB, or a pure in-memory backend without the rest
// of the system knowing the difference.
package storage

import (
	"errors"
	"time"

	"github.com/durable-streams/core/internal/content"
	"github.com/durable-streams/core/internal/producer"
)

// Errors returned by Store methods. Each maps to one spec §7 error kind
// at the HTTP boundary.
var (
	ErrStreamNotFound      = errors.New("storage: stream not found")
	ErrConfigMismatch      = errors.New("storage: stream exists with different configuration")
	ErrStreamClosed        = errors.New("storage: stream is closed")
	ErrContentTypeMismatch = errors.New("storage: content type mismatch")
	ErrStreamSeqRegression = errors.New("storage: Stream-Seq must strictly increase")
	ErrSegmentMissing      = errors.New("storage: expected cold segment is missing")
	ErrPartialProducer     = producer.ErrPartialHeaders
)

// ProducerRef identifies the producer commit that closed a stream (spec
// §3 Stream.closed_by). No write path sets StreamMeta.ClosedBy, so it is
// always nil; close-only replay is detected from Closed alone.
type ProducerRef struct {
	ID    string
	Epoch int64
	Seq   int64
}

// CreateOptions is the input to Store.Create (spec §4.F PUT).
type CreateOptions struct {
	ContentType string
	TTLSeconds  *int64
	ExpiresAt   *time.Time
	InitialData []byte
	Close       bool
}

// StreamMeta is the externally-visible snapshot of a stream's metadata
// (spec §3 Stream).
type StreamMeta struct {
	Path            string
	ContentType     string
	Strategy        content.Strategy
	Closed          bool
	ClosedAt        *time.Time
	ClosedBy        *ProducerRef
	TailCounter     uint64
	SegmentStart    uint64
	CreatedAt       time.Time
	TTLSeconds      *int64
	ExpiresAt       *time.Time
	LastStreamSeq   *int64
	Salt            uint64
	LastWriteTime   time.Time
}

// IsExpired reports whether the stream has passed its TTL or explicit
// expiry (spec §3 invariant).
func (m *StreamMeta) IsExpired(now time.Time) bool {
	if m.ExpiresAt != nil && now.After(*m.ExpiresAt) {
		return true
	}
	if m.TTLSeconds != nil && now.After(m.CreatedAt.Add(time.Duration(*m.TTLSeconds)*time.Second)) {
		return true
	}
	return false
}

// ConfigMatches reports whether opts describes the same stream
// configuration as m, for PUT idempotency (spec §4.F).
func (m *StreamMeta) ConfigMatches(opts CreateOptions) bool {
	if !content.Matches(m.ContentType, opts.ContentType) {
		return false
	}
	if (m.TTLSeconds == nil) != (opts.TTLSeconds == nil) {
		return false
	}
	if m.TTLSeconds != nil && *m.TTLSeconds != *opts.TTLSeconds {
		return false
	}
	if (m.ExpiresAt == nil) != (opts.ExpiresAt == nil) {
		return false
	}
	if m.ExpiresAt != nil && !m.ExpiresAt.Equal(*opts.ExpiresAt) {
		return false
	}
	return true
}

// AppendOptions is the input to Store.Append (spec §4.F POST).
type AppendOptions struct {
	ContentType string
	Close       bool
	StreamSeq   *int64
	Producer    *producer.Headers // nil when no producer triplet was sent
}

// AppendOutcome is the result of a successful Store.Append call.
type AppendOutcome struct {
	TailCounter     uint64
	Duplicate       bool // producer replay: nothing was appended
	ProducerLastSeq int64
	Closed          bool
	WriteTime       time.Time
	Messages        [][]byte // exactly what was appended, nil for close-only/duplicate
}

// SegmentRef identifies one cold, immutable segment (spec §3 Segment).
type SegmentRef struct {
	StartCounter uint64
	EndCounter   uint64
	BlobKey      string
}

// ReadResult is the bounded outcome of a read (spec §4.G Read).
type ReadResult struct {
	Messages       [][]byte
	NextCounter    uint64
	UpToDate       bool
	ClosedAtTail   bool
	HasData        bool
	WriteTimestamp time.Time
	Gap            bool // true when offset lands on a valid segment boundary with no data yet
}

// KV is the atomic batched-mutation contract a hot-tier backend must
// satisfy (spec §4.C): "appending a batch ... must be a single
// transaction. Any partial failure must leave the stream at its prior
// state." Mutate runs fn once inside one transaction; returning a
// non-nil error aborts the transaction with no partial effect.
type KV interface {
	// Mutate loads the current value for path (nil, false if absent),
	// and atomically replaces it with whatever fn returns. If del is
	// true the key is removed instead.
	Mutate(path string, fn func(current []byte, exists bool) (next []byte, del bool, err error)) error
	// Get returns the current value for path.
	Get(path string) (data []byte, exists bool, err error)
	// ForEach iterates every stored key.
	ForEach(fn func(path string, data []byte) error) error
	Close() error
}

// BlobStore is the cold-object get/put contract (spec §4.C).
type BlobStore interface {
	Put(key string, data []byte) error
	Get(key string) ([]byte, error)
	Close() error
}

// ErrBlobNotFound is returned by BlobStore.Get for an unknown key.
var ErrBlobNotFound = errors.New("storage: blob not found")
