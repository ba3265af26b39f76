package content

import (
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"":                             "application/octet-stream",
		"APPLICATION/JSON":             "application/json",
		"application/json; charset=utf-8": "application/json",
		"text/Plain;boundary=x":        "text/plain",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsTextual(t *testing.T) {
	if !IsTextual("text/plain") || !IsTextual("application/json") {
		t.Fatal("text/plain and application/json must be textual")
	}
	if IsTextual("application/octet-stream") || IsTextual("image/png") {
		t.Fatal("binary types must not be textual")
	}
}

func TestSplitAppendBinary(t *testing.T) {
	msgs, err := SplitAppend(Binary, []byte("hello"), false)
	if err != nil || len(msgs) != 1 || string(msgs[0]) != "hello" {
		t.Fatalf("got %v, %v", msgs, err)
	}
	if _, err := SplitAppend(Binary, nil, false); err != ErrEmptyBody {
		t.Fatalf("want ErrEmptyBody, got %v", err)
	}
}

func TestSplitAppendJSON(t *testing.T) {
	msgs, err := SplitAppend(JSON, []byte(`[{"a":1},{"b":2}]`), false)
	if err != nil {
		t.Fatalf("SplitAppend: %v", err)
	}
	if len(msgs) != 2 || string(msgs[0]) != `{"a":1}` || string(msgs[1]) != `{"b":2}` {
		t.Fatalf("got %v", msgs)
	}

	if _, err := SplitAppend(JSON, []byte(`[]`), false); err != ErrEmptyJSONArray {
		t.Fatalf("want ErrEmptyJSONArray, got %v", err)
	}
	if msgs, err := SplitAppend(JSON, []byte(`[]`), true); err != nil || len(msgs) != 0 {
		t.Fatalf("allowEmptyArray should permit []: %v %v", msgs, err)
	}
	if _, err := SplitAppend(JSON, []byte(`{"not":"array"}`), false); err != ErrNotJSONArray {
		t.Fatalf("want ErrNotJSONArray, got %v", err)
	}
	if _, err := SplitAppend(JSON, []byte(`not json`), false); err != ErrInvalidJSON {
		t.Fatalf("want ErrInvalidJSON, got %v", err)
	}
}

func TestFormat(t *testing.T) {
	if got := string(Format(JSON, nil)); got != "[]" {
		t.Fatalf("empty JSON format = %q, want []", got)
	}
	msgs := [][]byte{[]byte(`1`), []byte(`2`)}
	if got := string(Format(JSON, msgs)); got != "[1,2]" {
		t.Fatalf("got %q", got)
	}
	if got := string(Format(Binary, [][]byte{[]byte("a"), []byte("b")})); got != "ab" {
		t.Fatalf("got %q", got)
	}
}
