package util

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket refilled continuously at a fixed rate.
type RateLimiter struct {
	mu       sync.Mutex
	interval time.Duration // time to earn one token
	burst    float64
	tokens   float64
	last     time.Time
	now      func() time.Time
}

// NewRateLimiter allows perMinute operations per minute with up to burst
// back to back. A non-positive perMinute disables limiting.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	rl := &RateLimiter{burst: float64(burst), tokens: float64(burst), now: time.Now}
	if perMinute > 0 {
		rl.interval = time.Minute / time.Duration(perMinute)
	}
	rl.last = rl.now()
	return rl
}

// reserve takes a token if one is available, otherwise returns how long
// until the next one.
func (rl *RateLimiter) reserve() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.tokens += float64(now.Sub(rl.last)) / float64(rl.interval)
	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}
	rl.last = now

	if rl.tokens >= 1 {
		rl.tokens--
		return 0
	}
	return time.Duration((1 - rl.tokens) * float64(rl.interval))
}

// Wait blocks until a token is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil || rl.interval == 0 {
		return ctx.Err()
	}
	for {
		d := rl.reserve()
		if d == 0 {
			return nil
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
