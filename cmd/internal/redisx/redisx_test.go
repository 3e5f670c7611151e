package redisx

import (
	"context"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestNilGuardsAllow(t *testing.T) {
	ctx := context.Background()

	var idem *Idempotency
	ok, err := idem.Claim(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("nil Idempotency must claim: ok=%v err=%v", ok, err)
	}
	if err := idem.Release(ctx, "k"); err != nil {
		t.Fatalf("nil Release: %v", err)
	}

	var lim *Limiter
	ok, _, err = lim.Allow(ctx, "user:1")
	if err != nil || !ok {
		t.Fatalf("nil Limiter must allow: ok=%v err=%v", ok, err)
	}

	disabled := NewLimiter(nil, 0, 0)
	if ok, _, _ := disabled.Allow(ctx, "user:1"); !ok {
		t.Fatalf("disabled limiter must allow")
	}
}

func TestRedisGuards_Integration(t *testing.T) {
	raw := strings.TrimSpace(os.Getenv("MESSENGER_REDIS_URL"))
	if raw == "" {
		t.Skip("MESSENGER_REDIS_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := Connect(ctx, raw)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer func() { _ = c.Close() }()

	suffix := strconv.FormatInt(time.Now().UnixNano(), 10)

	idem := NewIdempotency(c, time.Minute)
	key := "it-" + suffix
	first, err := idem.Claim(ctx, key)
	if err != nil || !first {
		t.Fatalf("first claim: ok=%v err=%v", first, err)
	}
	second, err := idem.Claim(ctx, key)
	if err != nil || second {
		t.Fatalf("second claim must fail: ok=%v err=%v", second, err)
	}
	if err := idem.Release(ctx, key); err != nil {
		t.Fatalf("Release: %v", err)
	}
	again, err := idem.Claim(ctx, key)
	if err != nil || !again {
		t.Fatalf("claim after release: ok=%v err=%v", again, err)
	}

	lim := NewLimiter(c, 2, time.Minute)
	lk := "it-user-" + suffix
	for i := 1; i <= 3; i++ {
		ok, n, err := lim.Allow(ctx, lk)
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if n != int64(i) || ok != (i <= 2) {
			t.Fatalf("hit %d: ok=%v n=%d", i, ok, n)
		}
	}
}
