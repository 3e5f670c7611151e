// Package redisx holds the Redis-backed request guards: send idempotency and per-user rate limits.
// Every guard is usable as a nil pointer, in which case it allows everything.
package redisx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("redisx: parse url: %w", err)
	}
	c := redis.NewClient(opt)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redisx: ping: %w", err)
	}
	return c, nil
}

// Idempotency remembers request keys for a TTL.
type Idempotency struct {
	r   redis.Cmdable
	ttl time.Duration
}

// NewIdempotency returns a guard storing keys for ttl (default 24h).
func NewIdempotency(r redis.Cmdable, ttl time.Duration) *Idempotency {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Idempotency{r: r, ttl: ttl}
}

// Claim reports whether key was seen for the first time. An empty key is always claimed.
func (i *Idempotency) Claim(ctx context.Context, key string) (bool, error) {
	key = strings.TrimSpace(key)
	if i == nil || i.r == nil || key == "" {
		return true, nil
	}
	return i.r.SetNX(ctx, "idem:"+key, "1", i.ttl).Result()
}

// Release forgets key so a failed request can be retried with it.
func (i *Idempotency) Release(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if i == nil || i.r == nil || key == "" {
		return nil
	}
	err := i.r.Del(ctx, "idem:"+key).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// Limiter is a fixed-window counter: at most limit hits per window per key.
type Limiter struct {
	r      redis.Cmdable
	limit  int64
	window time.Duration
}

// NewLimiter returns a limiter; limit <= 0 disables it.
func NewLimiter(r redis.Cmdable, limit int64, window time.Duration) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{r: r, limit: limit, window: window}
}

// Allow counts one hit for key and reports whether it is within the limit, plus the current count.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, int64, error) {
	if l == nil || l.r == nil || l.limit <= 0 || key == "" {
		return true, 0, nil
	}
	k := "rl:" + key
	pipe := l.r.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, err
	}
	n := incr.Val()
	return n <= l.limit, n, nil
}
