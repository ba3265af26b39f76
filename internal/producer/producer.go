// Package producer implements the idempotent producer cursor engine
// (spec component E): parse/validate/dedup/advance per-producer
// (id, epoch, seq) state, grounded on the teacher's
// store.validateProducer.
package producer

import (
	"errors"
	"time"
)

// Errors returned by Evaluate. Each maps to a specific HTTP outcome at
// the handler boundary (§4.E, §7): gap/regression/stale-epoch reject
// with 409, partial-headers rejects with 400.
var (
	ErrPartialHeaders = errors.New("producer: id/epoch/seq must all be present or all absent")
	ErrFirstSeqNotZero = errors.New("producer: new producer must start at seq 0")
	ErrSeqGap          = errors.New("producer: sequence gap or regression")
	ErrEpochSeqNotZero = errors.New("producer: new epoch must start at seq 0")
	ErrStaleEpoch      = errors.New("producer: epoch is stale")
)

// State is the durable per-producer cursor (spec §3 Producer Cursor).
type State struct {
	Epoch       int64
	LastSeq     int64
	LastUpdated time.Time
}

// Headers is the parsed Producer-Id/Producer-Epoch/Producer-Seq triplet.
type Headers struct {
	ID    string
	Epoch int64
	Seq   int64
}

// Outcome is the kind of result Evaluate reached.
type Outcome int

const (
	// Accepted means the append should proceed and the cursor should
	// advance to the returned NextState.
	Accepted Outcome = iota
	// Duplicate means this exact (id, epoch, seq) was already committed;
	// the caller must return the prior response (204) without
	// re-appending or re-broadcasting.
	Duplicate
)

// Result is the outcome of evaluating one append against a producer's
// current state.
type Result struct {
	Outcome     Outcome
	NextState   State // valid only when Outcome == Accepted
	LastSeq     int64 // the accepted/duplicate seq, for echo headers
	ExpectedSeq int64 // set on ErrSeqGap
	ReceivedSeq int64 // set on ErrSeqGap
	CurrentEpoch int64 // set on ErrStaleEpoch
}

// Evaluate applies the table in spec §4.E. current is nil when no cursor
// row exists yet for this producer.
func Evaluate(current *State, h Headers, now time.Time) (Result, error) {
	if current == nil {
		if h.Seq != 0 {
			return Result{ExpectedSeq: 0, ReceivedSeq: h.Seq}, ErrFirstSeqNotZero
		}
		return Result{
			Outcome:   Accepted,
			NextState: State{Epoch: h.Epoch, LastSeq: 0, LastUpdated: now},
			LastSeq:   0,
		}, nil
	}

	switch {
	case h.Epoch < current.Epoch:
		return Result{CurrentEpoch: current.Epoch}, ErrStaleEpoch

	case h.Epoch > current.Epoch:
		if h.Seq != 0 {
			return Result{}, ErrEpochSeqNotZero
		}
		return Result{
			Outcome:   Accepted,
			NextState: State{Epoch: h.Epoch, LastSeq: 0, LastUpdated: now},
			LastSeq:   0,
		}, nil

	default: // same epoch
		switch {
		case h.Seq == current.LastSeq:
			return Result{Outcome: Duplicate, LastSeq: current.LastSeq}, nil
		case h.Seq == current.LastSeq+1:
			return Result{
				Outcome:   Accepted,
				NextState: State{Epoch: h.Epoch, LastSeq: h.Seq, LastUpdated: now},
				LastSeq:   h.Seq,
			}, nil
		default: // seq <= lastSeq-1 (regression) or seq > lastSeq+1 (gap)
			return Result{ExpectedSeq: current.LastSeq + 1, ReceivedSeq: h.Seq}, ErrSeqGap
		}
	}
}

// HasAny reports whether any of the three producer headers were supplied.
func HasAny(id string, epochSet, seqSet bool) bool {
	return id != "" || epochSet || seqSet
}

// HasAll reports whether all three producer headers were supplied.
func HasAll(id string, epochSet, seqSet bool) bool {
	return id != "" && epochSet && seqSet
}
