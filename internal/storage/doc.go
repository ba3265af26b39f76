package storage

import (
	"encoding/json"
	"time"

	"github.com/durable-streams/core/internal/content"
	"github.com/durable-streams/core/internal/producer"
)

// persistedStream is the on-disk/in-memory representation of one stream.
// It is the unit the KV backends store under a single key, so a single
// Mutate call commits metadata, hot messages, the producer table, and the
// segment index together (spec §4.C atomicity requirement).
type persistedStream struct {
	Path            string                       `json:"path"`
	ContentType     string                       `json:"content_type"`
	Closed          bool                         `json:"closed"`
	ClosedAtUnixMs  *int64                       `json:"closed_at_ms,omitempty"`
	ClosedBy        *ProducerRef                 `json:"closed_by,omitempty"`
	TailCounter     uint64                       `json:"tail_counter"`
	SegmentStart    uint64                       `json:"segment_start"`
	HotMessages     [][]byte                     `json:"hot_messages,omitempty"`
	CreatedAtUnixMs int64                        `json:"created_at_ms"`
	TTLSeconds      *int64                       `json:"ttl_seconds,omitempty"`
	ExpiresAtUnixMs *int64                       `json:"expires_at_ms,omitempty"`
	LastStreamSeq   *int64                       `json:"last_stream_seq,omitempty"`
	Salt            uint64                       `json:"salt"`
	Producers       map[string]persistedProducer `json:"producers,omitempty"`
	SegmentIndex    []SegmentRef                 `json:"segment_index,omitempty"`
	LastWriteMs     int64                        `json:"last_write_ms"`
}

type persistedProducer struct {
	Epoch        int64 `json:"epoch"`
	LastSeq      int64 `json:"last_seq"`
	LastUpdateMs int64 `json:"last_update_ms"`
}

func encodeDoc(d *persistedStream) ([]byte, error) {
	return json.Marshal(d)
}

func decodeDoc(raw []byte) (*persistedStream, error) {
	var d persistedStream
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func msPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	v := t.UnixMilli()
	return &v
}

func timePtr(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms)
	return &t
}

func (d *persistedStream) toMeta() *StreamMeta {
	ct := content.Normalize(d.ContentType)
	return &StreamMeta{
		Path:          d.Path,
		ContentType:   ct,
		Strategy:      content.StrategyFor(ct),
		Closed:        d.Closed,
		ClosedAt:      timePtr(d.ClosedAtUnixMs),
		ClosedBy:      d.ClosedBy,
		TailCounter:   d.TailCounter,
		SegmentStart:  d.SegmentStart,
		CreatedAt:     time.UnixMilli(d.CreatedAtUnixMs),
		TTLSeconds:    d.TTLSeconds,
		ExpiresAt:     timePtr(d.ExpiresAtUnixMs),
		LastStreamSeq: d.LastStreamSeq,
		Salt:          d.Salt,
		LastWriteTime: time.UnixMilli(d.LastWriteMs),
	}
}

func (d *persistedStream) producerState(id string) *producer.State {
	p, ok := d.Producers[id]
	if !ok {
		return nil
	}
	return &producer.State{Epoch: p.Epoch, LastSeq: p.LastSeq, LastUpdated: time.UnixMilli(p.LastUpdateMs)}
}

func (d *persistedStream) setProducerState(id string, s producer.State) {
	if d.Producers == nil {
		d.Producers = make(map[string]persistedProducer)
	}
	d.Producers[id] = persistedProducer{Epoch: s.Epoch, LastSeq: s.LastSeq, LastUpdateMs: s.LastUpdated.UnixMilli()}
}

// hotBytes returns the total encoded size of the accumulated hot messages,
// used to decide when to rotate a segment to cold storage.
func (d *persistedStream) hotBytes() int {
	total := 0
	for _, m := range d.HotMessages {
		total += len(m) + 4
	}
	return total
}
