package producer

import (
	"testing"
	"time"
)

func TestNewProducerMustStartAtZero(t *testing.T) {
	now := time.Now()
	if _, err := Evaluate(nil, Headers{ID: "p", Epoch: 1, Seq: 1}, now); err != ErrFirstSeqNotZero {
		t.Fatalf("want ErrFirstSeqNotZero, got %v", err)
	}
	res, err := Evaluate(nil, Headers{ID: "p", Epoch: 1, Seq: 0}, now)
	if err != nil || res.Outcome != Accepted || res.NextState.LastSeq != 0 {
		t.Fatalf("got %+v, %v", res, err)
	}
}

func TestAdvanceSameEpoch(t *testing.T) {
	state := &State{Epoch: 1, LastSeq: 5}
	res, err := Evaluate(state, Headers{ID: "p", Epoch: 1, Seq: 6}, time.Now())
	if err != nil || res.Outcome != Accepted || res.NextState.LastSeq != 6 {
		t.Fatalf("got %+v, %v", res, err)
	}
}

func TestDuplicateReplay(t *testing.T) {
	state := &State{Epoch: 1, LastSeq: 5}
	res, err := Evaluate(state, Headers{ID: "p", Epoch: 1, Seq: 5}, time.Now())
	if err != nil || res.Outcome != Duplicate || res.LastSeq != 5 {
		t.Fatalf("got %+v, %v", res, err)
	}
}

func TestRegressionAndGapBothFail(t *testing.T) {
	state := &State{Epoch: 1, LastSeq: 5}
	for _, seq := range []int64{4, 0, 7, 100} {
		res, err := Evaluate(state, Headers{ID: "p", Epoch: 1, Seq: seq}, time.Now())
		if err != ErrSeqGap {
			t.Fatalf("seq=%d: want ErrSeqGap, got %v", seq, err)
		}
		if res.ExpectedSeq != 6 || res.ReceivedSeq != seq {
			t.Fatalf("seq=%d: got expected=%d received=%d", seq, res.ExpectedSeq, res.ReceivedSeq)
		}
	}
}

func TestEpochBumpMustStartAtZero(t *testing.T) {
	state := &State{Epoch: 1, LastSeq: 5}
	if _, err := Evaluate(state, Headers{ID: "p", Epoch: 2, Seq: 1}, time.Now()); err != ErrEpochSeqNotZero {
		t.Fatalf("want ErrEpochSeqNotZero, got %v", err)
	}
	res, err := Evaluate(state, Headers{ID: "p", Epoch: 2, Seq: 0}, time.Now())
	if err != nil || res.Outcome != Accepted || res.NextState.Epoch != 2 || res.NextState.LastSeq != 0 {
		t.Fatalf("got %+v, %v", res, err)
	}
}

func TestStaleEpochRejected(t *testing.T) {
	state := &State{Epoch: 3, LastSeq: 5}
	res, err := Evaluate(state, Headers{ID: "p", Epoch: 2, Seq: 0}, time.Now())
	if err != ErrStaleEpoch || res.CurrentEpoch != 3 {
		t.Fatalf("got %+v, %v", res, err)
	}
}

func TestHasAnyHasAll(t *testing.T) {
	if HasAny("", false, false) {
		t.Fatal("HasAny should be false when nothing is set")
	}
	if !HasAny("p", false, false) {
		t.Fatal("HasAny should be true when id alone is set")
	}
	if HasAll("p", true, false) {
		t.Fatal("HasAll should require all three")
	}
	if !HasAll("p", true, true) {
		t.Fatal("HasAll should be true when all three are set")
	}
}
