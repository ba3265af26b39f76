package offset

import (
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := NewCodec(0xdeadbeefcafef00d)
	for _, counter := range []uint64{0, 1, 11, 1234567890, ^uint64(0)} {
		s := c.Encode(counter)
		got, err := c.Decode(s)
		if err != nil {
			t.Fatalf("Decode(%q): %v", s, err)
		}
		if got != counter {
			t.Errorf("round trip: want %d, got %d", counter, got)
		}
	}
}

func TestEncodeDifferentSaltsDiffer(t *testing.T) {
	a := NewCodec(1).Encode(42)
	b := NewCodec(2).Encode(42)
	if a == b {
		t.Fatalf("two streams with identical counters must not share an opaque offset: %q", a)
	}
}

func TestEncodeIsLexicographicallySortable(t *testing.T) {
	c := NewCodec(7)
	prev := c.Encode(0)
	for _, n := range []uint64{1, 2, 10, 100, 1000, 999999999999} {
		cur := c.Encode(n)
		if !(prev < cur) {
			t.Errorf("expected %q < %q", prev, cur)
		}
		prev = cur
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	c := NewCodec(1)
	for _, bad := range []string{"", "abc", "1_2", "not_hex_not_dec", "00000000000000000000_0000000000000000001"} {
		if _, err := c.Decode(bad); err == nil {
			t.Errorf("Decode(%q) should have failed", bad)
		}
	}
}

func TestParseLiterals(t *testing.T) {
	c := NewCodec(5)

	for _, raw := range []string{"", "-1"} {
		r, err := Parse(raw, c)
		if err != nil {
			t.Fatalf("Parse(%q): %v", raw, err)
		}
		if r.Kind != LiteralCounter || r.Counter != Zero {
			t.Errorf("Parse(%q) = %+v, want zero counter", raw, r)
		}
	}

	r, err := Parse("now", c)
	if err != nil || r.Kind != LiteralNow {
		t.Fatalf("Parse(now) = %+v, %v", r, err)
	}

	encoded := c.Encode(123)
	r, err = Parse(encoded, c)
	if err != nil || r.Kind != LiteralCounter || r.Counter != 123 {
		t.Fatalf("Parse(%q) = %+v, %v", encoded, r, err)
	}

	if _, err := Parse("garbage", c); err != ErrInvalidOffset {
		t.Fatalf("Parse(garbage) should fail with ErrInvalidOffset, got %v", err)
	}
}

func TestNextCursorAdvancesWhenClientIsAheadOrEqual(t *testing.T) {
	now := time.Now()
	cur := NextCursor("", now)
	again := NextCursor(cur, now)
	if again == cur {
		t.Fatalf("cursor should advance when client cursor is at the current interval: %q == %q", again, cur)
	}
}

func TestNextCursorResetsWhenClientIsBehind(t *testing.T) {
	now := time.Now()
	stale := "-999999999"
	cur := NextCursor(stale, now)
	if cur == stale {
		t.Fatalf("stale cursor should be replaced with the current interval")
	}
}
