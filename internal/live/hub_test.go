package live

import "testing"

func TestSubscribeBroadcastDeliversToAllSubscribers(t *testing.T) {
	h := NewHub()
	a := h.Subscribe("/s1")
	b := h.Subscribe("/s1")
	other := h.Subscribe("/s2")
	defer a.Close()
	defer b.Close()
	defer other.Close()

	h.Broadcast("/s1", Event{Kind: DataEvent, Data: []byte("x")})

	for _, s := range []*Subscriber{a, b} {
		select {
		case ev := <-s.Events:
			if string(ev.Data) != "x" {
				t.Fatalf("got %q", ev.Data)
			}
		default:
			t.Fatal("expected event delivered")
		}
	}
	select {
	case <-other.Events:
		t.Fatal("subscriber on a different path should not receive the event")
	default:
	}
}

func TestCloseStreamWakesAndDisconnectsSubscribers(t *testing.T) {
	h := NewHub()
	a := h.Subscribe("/s1")

	h.CloseStream("/s1", "abc")

	select {
	case ev := <-a.Events:
		if !ev.Control.Closed {
			t.Fatalf("expected closed control event, got %+v", ev)
		}
	default:
		t.Fatal("expected a closed control event")
	}
	select {
	case <-a.Done:
	default:
		t.Fatal("expected subscriber to be disconnected")
	}
	if h.ActiveCount("/s1") != 0 {
		t.Fatal("expected no active subscribers after CloseStream")
	}
}

func TestBroadcastDropsOnFullBuffer(t *testing.T) {
	h := NewHub()
	a := h.Subscribe("/s1")
	defer a.Close()

	for i := 0; i < subscriberBuffer+10; i++ {
		h.Broadcast("/s1", Event{Kind: DataEvent, Data: []byte("x")})
	}
	if len(a.Events) != subscriberBuffer {
		t.Fatalf("expected buffer to cap at %d, got %d", subscriberBuffer, len(a.Events))
	}
}
