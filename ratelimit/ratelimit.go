// Package ratelimit throttles facilitator callers by key.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/vitwit/x402-facilitator/logger"
	"golang.org/x/time/rate"
)

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Limit(ctx context.Context, key string) (bool, error)
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// TokenBucket keeps one token bucket per key in memory. Buckets idle for
// longer than the eviction window are dropped.
type TokenBucket struct {
	mu       sync.Mutex
	perSec   rate.Limit
	burst    int
	idle     time.Duration
	buckets  map[string]*bucket
	clockNow func() time.Time
	lastGC   time.Time
}

var _ Limiter = (*TokenBucket)(nil)

// NewTokenBucket allows perMinute requests per key with the given burst.
func NewTokenBucket(perMinute float64, burst int) *TokenBucket {
	perSecond := perMinute / 60.0
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucket{
		perSec:   rate.Limit(perSecond),
		burst:    burst,
		idle:     10 * time.Minute,
		buckets:  make(map[string]*bucket),
		clockNow: time.Now,
	}
}

func (t *TokenBucket) Limit(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clockNow()
	t.evictIdle(now)

	b, ok := t.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(t.perSec, t.burst)}
		t.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1), nil
}

// Len reports the number of tracked keys.
func (t *TokenBucket) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buckets)
}

func (t *TokenBucket) evictIdle(now time.Time) {
	if now.Sub(t.lastGC) < t.idle {
		return
	}
	t.lastGC = now
	for k, b := range t.buckets {
		if now.Sub(b.lastSeen) >= t.idle {
			delete(t.buckets, k)
		}
	}
}

// Gate wraps a Limiter and fails open: limiter errors let the request through.
type Gate struct {
	limiter Limiter
	logger  logger.Logger
}

// NewGate returns a Gate. A nil limiter allows everything.
func NewGate(limiter Limiter, log logger.Logger) *Gate {
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &Gate{limiter: limiter, logger: log}
}

func (g *Gate) Allow(ctx context.Context, key string) bool {
	if g == nil || g.limiter == nil {
		return true
	}
	allowed, err := g.limiter.Limit(ctx, key)
	if err != nil {
		g.logger.Warn("rate limiter error, allowing request", map[string]any{
			"key":   key,
			"error": err.Error(),
		})
		return true
	}
	return allowed
}
