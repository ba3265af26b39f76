package segment

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	records := [][]byte{[]byte("hello"), {}, []byte("world"), []byte("x")}
	blob, err := Encode(records)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, truncated, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if truncated {
		t.Fatalf("unexpected truncation")
	}
	if len(decoded) != len(records) {
		t.Fatalf("decoded %d records, want %d", len(decoded), len(records))
	}
	for i := range records {
		if !bytes.Equal(decoded[i], records[i]) {
			t.Errorf("record %d: got %q want %q", i, decoded[i], records[i])
		}
	}
}

func TestEncodeRejectsOversizedRecord(t *testing.T) {
	big := make([]byte, MaxRecordSize+1)
	if _, err := Encode([][]byte{big}); err != ErrRecordTooLarge {
		t.Fatalf("want ErrRecordTooLarge, got %v", err)
	}
}

func TestDecodeReportsTruncatedTail(t *testing.T) {
	blob, err := Encode([][]byte{[]byte("abc"), []byte("defgh")})
	if err != nil {
		t.Fatal(err)
	}
	// Cut off mid-payload of the second record.
	cut := blob[:len(blob)-3]
	decoded, truncated, err := Decode(cut)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !truncated {
		t.Fatalf("expected truncated=true")
	}
	if len(decoded) != 1 || string(decoded[0]) != "abc" {
		t.Fatalf("expected fully-decoded prefix [abc], got %v", decoded)
	}
}

func TestDecodeTruncatedLengthPrefix(t *testing.T) {
	blob, err := Encode([][]byte{[]byte("abc")})
	if err != nil {
		t.Fatal(err)
	}
	cut := append(blob, 0x00, 0x00) // partial length prefix of a phantom next record
	decoded, truncated, err := Decode(cut)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !truncated || len(decoded) != 1 {
		t.Fatalf("got decoded=%v truncated=%v", decoded, truncated)
	}
}

func TestSelectJSONSkipsByMessageIndex(t *testing.T) {
	messages := [][]byte{[]byte(`{"a":1}`), []byte(`{"b":2}`), []byte(`{"c":3}`)}
	out, start := Select(messages, 11, 10, 1<<20, true)
	if start != 11 || len(out) != 2 {
		t.Fatalf("got start=%d out=%v", start, out)
	}
}

func TestSelectNonJSONSkipsByByteCursor(t *testing.T) {
	messages := [][]byte{[]byte("abc"), []byte("de"), []byte("fgh")}
	// segmentStart=100 -> message byte ranges: [100,103) [103,105) [105,108)
	out, start := Select(messages, 104, 100, 1<<20, false)
	if start != 103 {
		t.Fatalf("outputStart = %d, want 103", start)
	}
	if len(out) != 2 || string(out[0]) != "de" {
		t.Fatalf("got %v", out)
	}
}

func TestSelectStopsAfterFirstMessageWhenBudgetExhausted(t *testing.T) {
	messages := [][]byte{[]byte("abc"), []byte("def")}
	out, _ := Select(messages, 0, 0, 0, false)
	if len(out) != 1 {
		t.Fatalf("expected exactly one message returned even with zero budget, got %d", len(out))
	}
}

func TestSelectPastTailReturnsNothing(t *testing.T) {
	messages := [][]byte{[]byte("abc")}
	out, _ := Select(messages, 999, 0, 1<<20, false)
	if out != nil {
		t.Fatalf("expected nil, got %v", out)
	}
}
