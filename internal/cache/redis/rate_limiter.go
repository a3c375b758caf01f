package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window counter shared by every API replica.
type RateLimiter struct {
	rdb    *redis.Client
	limit  int64
	window time.Duration
}

// NewRateLimiter allows limit requests per key per window.
func NewRateLimiter(c *Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{rdb: c.Underlying(), limit: int64(limit), window: window}
}

func rateLimitKey(key string, window time.Duration, now time.Time) string {
	slot := now.UnixNano() / int64(window)
	return fmt.Sprintf("yesno:ratelimit:%s:%d", key, slot)
}

// Allow counts one request for key and reports whether it is within the limit.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := rateLimitKey(key, rl.window, time.Now())

	pipe := rl.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, rl.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	return incr.Val() <= rl.limit, nil
}
