package realtime

import (
	"testing"
	"time"
)

func TestRateLimiter_SlidingWindow(t *testing.T) {
	rl := NewRateLimiter(3, time.Second)
	base := time.Unix(1_700_000_000, 0)

	for i := 0; i < 3; i++ {
		if !rl.Allow(base.Add(time.Duration(i) * 10 * time.Millisecond)) {
			t.Fatalf("event %d should be allowed", i)
		}
	}
	if rl.Allow(base.Add(100 * time.Millisecond)) {
		t.Fatalf("fourth event inside the window must be rejected")
	}
	if !rl.Allow(base.Add(1005 * time.Millisecond)) {
		t.Fatalf("event after the first one expired must be allowed")
	}
	// Only the first admission left the window; the second still counts.
	if rl.Allow(base.Add(1006 * time.Millisecond)) {
		t.Fatalf("window still holds three events")
	}
	if !rl.Allow(base.Add(1015 * time.Millisecond)) {
		t.Fatalf("second admission expired, event must be allowed")
	}
}

func TestRateLimiter_RejectedEventsDoNotCount(t *testing.T) {
	rl := NewRateLimiter(1, time.Second)
	base := time.Unix(1_700_000_000, 0)

	if !rl.Allow(base) {
		t.Fatalf("first event must be allowed")
	}
	for i := 1; i <= 5; i++ {
		if rl.Allow(base.Add(time.Duration(i) * 100 * time.Millisecond)) {
			t.Fatalf("event %d must be rejected", i)
		}
	}
	if !rl.Allow(base.Add(time.Second)) {
		t.Fatalf("rejections must not extend the window")
	}
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	def := DefaultWSConfig()
	if len(rl.ring) != def.RateEvents || rl.window != def.RateWindow {
		t.Fatalf("expected defaults, got limit=%d window=%v", len(rl.ring), rl.window)
	}
}
