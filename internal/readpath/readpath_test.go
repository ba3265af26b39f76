package readpath

import (
	"testing"
	"time"

	"github.com/durable-streams/core/internal/offset"
	"github.com/durable-streams/core/internal/storage"
)

func TestResolveOffsetNowPinsToTailAndForcesNoStore(t *testing.T) {
	codec := offset.NewCodec(1)
	r, err := ResolveOffset("now", codec, 42)
	if err != nil || !r.IsNow || r.Counter != 42 || !r.NoStore {
		t.Fatalf("got %+v, %v", r, err)
	}
}

func TestResolveOffsetEmptyMeansZero(t *testing.T) {
	codec := offset.NewCodec(1)
	r, err := ResolveOffset("", codec, 42)
	if err != nil || r.Counter != 0 || r.IsNow {
		t.Fatalf("got %+v, %v", r, err)
	}
}

func TestResolveOffsetRoundTrips(t *testing.T) {
	codec := offset.NewCodec(7)
	enc := codec.Encode(9)
	r, err := ResolveOffset(enc, codec, 100)
	if err != nil || r.Counter != 9 {
		t.Fatalf("got %+v, %v", r, err)
	}
}

func TestReadCoalescesWithinWindow(t *testing.T) {
	store := storage.New(storage.NewMemoryKV(), storage.NewMemoryBlobStore(), storage.RotationConfig{})
	store.Create("/s1", storage.CreateOptions{ContentType: "text/plain"})
	store.Append("/s1", []byte("hi"), storage.AppendOptions{ContentType: "text/plain"})

	p := New(store, 50*time.Millisecond)
	r1, err := p.Read("/s1", 2, false, 0, 1024)
	if err != nil {
		t.Fatal(err)
	}
	store.Append("/s1", []byte("!!"), storage.AppendOptions{ContentType: "text/plain"})
	r2, err := p.Read("/s1", 2, false, 0, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if len(r1.Messages) != len(r2.Messages) {
		t.Fatalf("expected cached result to be reused: %+v vs %+v", r1, r2)
	}

	p.Invalidate("/s1")
	r3, err := p.Read("/s1", 4, false, 0, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if len(r3.Messages) != 2 {
		t.Fatalf("after invalidate, expected fresh read with 2 messages, got %+v", r3)
	}
}
