package oracle

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a process-wide token bucket enforcing both a
// requests-per-minute ceiling and a minimum gap between requests. It is
// constructed once and shared by every Chunk Worker; replicating one
// bucket per worker would let concurrent workers each issue requests up
// to the limit independently, defeating the process-wide ceiling.
type RateLimiter struct {
	mu            sync.Mutex
	ratePerMinute int
	minInterval   time.Duration
	tokens        float64
	lastRefill    time.Time
	nextAllowedAt time.Time
}

// NewRateLimiter builds a RateLimiter starting full (ratePerMinute
// tokens available immediately).
func NewRateLimiter(ratePerMinute int, minInterval time.Duration) *RateLimiter {
	now := time.Now()
	return &RateLimiter{
		ratePerMinute: ratePerMinute,
		minInterval:   minInterval,
		tokens:        float64(ratePerMinute),
		lastRefill:    now,
		nextAllowedAt: now,
	}
}

// Wait blocks the caller until both the minimum inter-request gap has
// elapsed and a token is available, or ctx is done first. It refills
// the bucket based on elapsed wall time since the last refill, capped
// at the configured rate.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		now := time.Now()

		elapsed := now.Sub(r.lastRefill)
		refill := elapsed.Minutes() * float64(r.ratePerMinute)
		if refill > 0 {
			r.tokens += refill
			if r.tokens > float64(r.ratePerMinute) {
				r.tokens = float64(r.ratePerMinute)
			}
			r.lastRefill = now
		}

		wait := time.Duration(0)
		if now.Before(r.nextAllowedAt) {
			wait = r.nextAllowedAt.Sub(now)
		}
		if r.tokens < 1 {
			needed := (1 - r.tokens) / float64(r.ratePerMinute) * float64(time.Minute)
			if time.Duration(needed) > wait {
				wait = time.Duration(needed)
			}
		}

		if wait <= 0 {
			r.tokens--
			r.nextAllowedAt = now.Add(r.minInterval)
			r.mu.Unlock()
			return nil
		}
		r.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
