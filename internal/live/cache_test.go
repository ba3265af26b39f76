package live

import (
	"testing"
	"time"
)

func TestLongPollCachePutGet(t *testing.T) {
	c := NewLongPollCache()
	c.Put("http://x/?offset=1", CachedResponse{Status: 200, Body: []byte("hi")}, 20*time.Millisecond)

	resp, ok := c.Get("http://x/?offset=1")
	if !ok || string(resp.Body) != "hi" {
		t.Fatalf("got %+v, %v", resp, ok)
	}

	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get("http://x/?offset=1"); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestLongPollCacheZeroTTLNoop(t *testing.T) {
	c := NewLongPollCache()
	c.Put("u", CachedResponse{Body: []byte("x")}, 0)
	if _, ok := c.Get("u"); ok {
		t.Fatal("zero TTL put should not be stored")
	}
}
