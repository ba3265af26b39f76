package waiter

import (
	"testing"
	"time"
)

func TestParkAndNotifyWakesReadyOnly(t *testing.T) {
	q := New()
	ahead := q.Park("/s1", "url-ahead", 10)
	behind := q.Park("/s1", "url-behind", 1)

	q.Notify("/s1", 5, 0)

	select {
	case <-behind.Ready:
	default:
		t.Fatal("waiter behind newTail should have woken")
	}
	select {
	case <-ahead.Ready:
		t.Fatal("waiter still ahead of newTail should not have woken")
	default:
	}
	q.Cancel(ahead)
}

func TestNotifyStaggersScoutFirst(t *testing.T) {
	q := New()
	a := q.Park("/s1", "url-a", 0)
	b := q.Park("/s1", "url-b", 0)
	c := q.Park("/s1", "url-c", 0)

	q.Notify("/s1", 100, 30*time.Millisecond)

	select {
	case <-a.Ready:
	case <-time.After(time.Second):
		t.Fatal("scout should wake immediately")
	}
	select {
	case <-b.Ready:
		t.Fatal("second waiter should not wake before its stagger delay")
	default:
	}

	select {
	case <-b.Ready:
	case <-time.After(time.Second):
		t.Fatal("b should wake within stagger window")
	}
	select {
	case <-c.Ready:
	case <-time.After(time.Second):
		t.Fatal("c should wake within stagger window")
	}
}

func TestReadyWaiterURLsDedupesAndDoesNotWake(t *testing.T) {
	q := New()
	a := q.Park("/s1", "same-url", 0)
	b := q.Park("/s1", "same-url", 0)
	defer q.Cancel(a)
	defer q.Cancel(b)

	urls := q.ReadyWaiterURLs("/s1", 10)
	if len(urls) != 1 || urls[0] != "same-url" {
		t.Fatalf("got %v, want one deduped URL", urls)
	}
	select {
	case <-a.Ready:
		t.Fatal("ReadyWaiterURLs must not wake waiters")
	default:
	}
}

func TestNotifyAllWakesEverythingImmediately(t *testing.T) {
	q := New()
	a := q.Park("/s1", "url-a", 1000)
	b := q.Park("/s1", "url-b", 2000)

	q.NotifyAll("/s1")

	for _, e := range []*Entry{a, b} {
		select {
		case <-e.Ready:
		default:
			t.Fatalf("waiter %s should have woken on NotifyAll", e.URL)
		}
	}
}

func TestCancelRemovesWaiterFromQueue(t *testing.T) {
	q := New()
	e := q.Park("/s1", "url", 5)
	q.Cancel(e)
	q.Notify("/s1", 100, 0)
	select {
	case <-e.Ready:
		t.Fatal("cancelled waiter must not be woken")
	default:
	}
}
