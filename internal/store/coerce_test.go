package store

import (
	"testing"
	"time"
)

func TestCoerce_TimeFormatsAsDate(t *testing.T) {
	ts := time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC)
	got := coerce(ts)
	if got != "2026-03-05" {
		t.Errorf("coerce(time) = %v, want 2026-03-05", got)
	}
}

func TestCoerce_ExactIntegerRoundTripBecomesNumber(t *testing.T) {
	got := coerce([]byte("42"))
	n, ok := got.(int64)
	if !ok || n != 42 {
		t.Errorf("coerce([]byte(42)) = %#v, want int64(42)", got)
	}
}

func TestCoerce_NonExactNumericStaysString(t *testing.T) {
	// Leading zero means the round trip through FormatInt won't match,
	// so it must remain a string rather than silently dropping the zero.
	got := coerce([]byte("042"))
	if got != "042" {
		t.Errorf("coerce([]byte(042)) = %#v, want string \"042\"", got)
	}
}

func TestCoerce_PlainStringPassesThrough(t *testing.T) {
	got := coerce([]byte("hello"))
	if got != "hello" {
		t.Errorf("coerce([]byte(hello)) = %#v, want \"hello\"", got)
	}
}
