package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Limiter decides whether one more request for key may proceed.
// Implemented by the in-process token bucket below and by
// cache/redis.RateLimiter when several API replicas share a budget.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// ──────────────────────────────────────────────────────────────────────────────
// Token Bucket Rate Limiter
// ──────────────────────────────────────────────────────────────────────────────

// bucket is a simple in-memory token bucket for one IP address.
type bucket struct {
	tokens     float64
	lastRefill time.Time
	mu         sync.Mutex
}

// TokenBucket holds per-key buckets.
type TokenBucket struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   float64 // maximum token capacity
}

// NewTokenBucket creates a limiter that refills perMinute tokens every minute.
// The burst capacity is max(10, perMinute/6) so short spikes are absorbed.
func NewTokenBucket(perMinute int) *TokenBucket {
	if perMinute <= 0 {
		perMinute = 60
	}
	burst := float64(perMinute) / 6
	if burst < 10 {
		burst = 10
	}
	return &TokenBucket{
		buckets: make(map[string]*bucket),
		rate:    float64(perMinute) / 60,
		burst:   burst,
	}
}

// Allow implements Limiter; it never fails.
func (tb *TokenBucket) Allow(_ context.Context, key string) (bool, error) {
	return tb.allow(key, time.Now()), nil
}

func (tb *TokenBucket) allow(key string, now time.Time) bool {
	// Fast path: bucket exists
	tb.mu.RLock()
	b, ok := tb.buckets[key]
	tb.mu.RUnlock()

	if !ok {
		tb.mu.Lock()
		if b, ok = tb.buckets[key]; !ok {
			b = &bucket{tokens: tb.burst, lastRefill: now}
			tb.buckets[key] = b
		}
		tb.mu.Unlock()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * tb.rate
		if b.tokens > tb.burst {
			b.tokens = tb.burst
		}
		b.lastRefill = now
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Evict drops buckets idle since before cutoff.
func (tb *TokenBucket) Evict(cutoff time.Time) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	for key, b := range tb.buckets {
		b.mu.Lock()
		if b.lastRefill.Before(cutoff) {
			delete(tb.buckets, key)
		}
		b.mu.Unlock()
	}
}

// RunEviction evicts idle buckets every 5 minutes until ctx ends.
func (tb *TokenBucket) RunEviction(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			tb.Evict(now.Add(-10 * time.Minute))
		}
	}
}

// RateLimitMiddleware rejects callers whose IP has exhausted its budget with
// 429 Too Many Requests. Limiter errors fail open.
func RateLimitMiddleware(l Limiter, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		ok, err := l.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			logger.Warn("rate limiter unavailable", "err", err)
			c.Next()
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "too many requests, please slow down",
				"code":    "ERR_RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}
