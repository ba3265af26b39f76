package coordinator

import (
	"testing"

	"github.com/durable-streams/core/internal/live"
	"github.com/durable-streams/core/internal/storage"
)

func newTestRegistry() *Registry {
	cfg := DefaultConfig()
	store := storage.New(storage.NewMemoryKV(), storage.NewMemoryBlobStore(), cfg.Rotation)
	return NewRegistry(store, cfg)
}

func TestCreateAndAppendBroadcasts(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()

	meta, created, err := r.Create("/s1", storage.CreateOptions{ContentType: "text/plain"})
	if err != nil || !created || meta.TailCounter != 0 {
		t.Fatalf("got %+v created=%v err=%v", meta, created, err)
	}

	sub := r.Hub.Subscribe("/s1")
	defer sub.Close()

	res, err := r.Append("/s1", []byte("hi"), storage.AppendOptions{ContentType: "text/plain"})
	if err != nil || res.Outcome.TailCounter != 2 {
		t.Fatalf("got %+v, %v", res, err)
	}

	select {
	case ev := <-sub.Events:
		if ev.Kind != live.DataEvent || string(ev.Data) != "hi" {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatal("expected a data event on append")
	}
	select {
	case ev := <-sub.Events:
		if ev.Kind != live.ControlEvent || !ev.Control.UpToDate {
			t.Fatalf("unexpected control event %+v", ev)
		}
	default:
		t.Fatal("expected a control event after data")
	}
}

func TestAppendWakesParkedWaiter(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()
	r.Create("/s1", storage.CreateOptions{ContentType: "text/plain"})

	e := r.Park("/s1", "http://x/?offset=0", 1)
	defer r.Cancel(e)

	res, err := r.Append("/s1", []byte("a"), storage.AppendOptions{ContentType: "text/plain"})
	if err != nil {
		t.Fatal(err)
	}
	r.PrecacheAndWake("/s1", res.Outcome.TailCounter, res.ReadyWaiters, func(url string) (live.CachedResponse, error) {
		return live.CachedResponse{Status: 200, Body: []byte("precached")}, nil
	})

	select {
	case <-e.Ready:
	default:
		t.Fatal("waiter should have been woken")
	}

	cached, ok := r.PollCache.Get("http://x/?offset=0")
	if !ok || string(cached.Body) != "precached" {
		t.Fatalf("expected pre-cached response, got %+v %v", cached, ok)
	}
}

func TestDeleteDisconnectsLiveClientsAndWakesWaiters(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()
	r.Create("/s1", storage.CreateOptions{ContentType: "text/plain"})

	sub := r.Hub.Subscribe("/s1")
	e := r.Park("/s1", "http://x/?offset=0", 1000)

	if err := r.Delete("/s1"); err != nil {
		t.Fatal(err)
	}

	select {
	case <-sub.Done:
	default:
		t.Fatal("live client should be disconnected on delete")
	}
	select {
	case <-e.Ready:
	default:
		t.Fatal("waiter should be woken on delete")
	}
}

func TestCloseOnlyBroadcastsCloseAndIsIdempotent(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()
	r.Create("/s1", storage.CreateOptions{ContentType: "text/plain"})
	sub := r.Hub.Subscribe("/s1")

	already, res, err := r.CloseOnly("/s1")
	if err != nil || already || !res.Meta.Closed {
		t.Fatalf("got already=%v res=%+v err=%v", already, res, err)
	}
	select {
	case ev := <-sub.Events:
		if !ev.Control.Closed {
			t.Fatalf("expected closed control event, got %+v", ev)
		}
	default:
		t.Fatal("expected a closed control event")
	}

	already, _, err = r.CloseOnly("/s1")
	if err != nil || !already {
		t.Fatalf("second close-only should be a no-op replay: %v %v", already, err)
	}
}
