package ids

import (
	"testing"
	"time"
)

func TestNewULID_MonotonicWithinMillisecond(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	prev := ""
	for i := 0; i < 100; i++ {
		id, err := NewULID(now)
		if err != nil {
			t.Fatalf("NewULID: %v", err)
		}
		if !Valid(id) {
			t.Fatalf("invalid ulid %q", id)
		}
		if id <= prev {
			t.Fatalf("ids must increase: %q after %q", id, prev)
		}
		prev = id
	}
}

func TestValid(t *testing.T) {
	cases := map[string]bool{
		"":                           false,
		"not-a-ulid":                 false,
		"01ARZ3NDEKTSV4RRFFQ69G5FAV": true,
	}
	for in, want := range cases {
		if got := Valid(in); got != want {
			t.Fatalf("Valid(%q)=%v want %v", in, got, want)
		}
	}
}
