package wire

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestEntryRoundTrip(t *testing.T) {
	exp := time.Now().Add(time.Minute).Truncate(0)
	tags := []string{"user:1", "session"}
	payload := []byte(`{"id":"1"}`)

	b := EncodeEntry(exp, tags, payload)
	gotExp, gotTags, gotPayload, err := DecodeEntry(b)
	if err != nil {
		t.Fatalf("DecodeEntry: %v", err)
	}
	if !gotExp.Equal(exp) {
		t.Fatalf("exp mismatch: got %v want %v", gotExp, exp)
	}
	if len(gotTags) != 2 || gotTags[0] != "user:1" || gotTags[1] != "session" {
		t.Fatalf("tags mismatch: %v", gotTags)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Fatalf("payload mismatch: %q", gotPayload)
	}
}

func TestEntryNoExpiryNoTags(t *testing.T) {
	b := EncodeEntry(time.Time{}, nil, []byte("v"))
	exp, tags, payload, err := DecodeEntry(b)
	if err != nil {
		t.Fatalf("DecodeEntry: %v", err)
	}
	if !exp.IsZero() {
		t.Fatalf("expected zero expiry, got %v", exp)
	}
	if len(tags) != 0 {
		t.Fatalf("expected no tags, got %v", tags)
	}
	if string(payload) != "v" {
		t.Fatalf("payload mismatch: %q", payload)
	}
}

func TestDecodeRejectsCorrupt(t *testing.T) {
	good := EncodeEntry(time.Now().Add(time.Minute), []string{"t"}, []byte("v"))

	cases := [][]byte{
		nil,
		[]byte("x"),
		[]byte("NOPE????????????????"),
		good[:len(good)-1],             // truncated payload
		append([]byte{}, good[:10]...), // truncated header
	}
	for i, b := range cases {
		if _, _, _, err := DecodeEntry(b); !errors.Is(err, ErrCorrupt) {
			t.Fatalf("case %d: expected ErrCorrupt, got %v", i, err)
		}
	}

	// flipped version byte
	bad := append([]byte(nil), good...)
	bad[4] = 99
	if _, _, _, err := DecodeEntry(bad); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("bad version: expected ErrCorrupt, got %v", err)
	}
}

func FuzzDecodeEntry(f *testing.F) {
	f.Add(EncodeEntry(time.Now().Add(time.Hour), []string{"a", "bb"}, []byte("payload")))
	f.Add([]byte("ACHE"))
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, b []byte) {
		// Must not panic; corrupt inputs must error.
		_, _, _, _ = DecodeEntry(b)
	})
}
