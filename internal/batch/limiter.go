package batch

import (
	"context"
	"sync"
	"time"
)

// rateLimiter is a token bucket with lazy refill: tokens accrue from elapsed
// time at each acquire, capped at the burst size. A starved caller sleeps one
// refill interval and is granted exactly one token; the accrual window is
// claimed up front, and waiters sleep outside the lock, so concurrent starved
// callers overlap their waits and can mildly over-admit versus a strict
// bucket. That approximation is deliberate and kept.
type rateLimiter struct {
	mu         sync.Mutex
	maxPerSec  float64
	burst      float64
	tokens     float64
	lastRefill time.Time

	clock func() time.Time
	sleep func(context.Context, time.Duration) error
}

// newRateLimiter builds a limiter admitting maxPerSecond items with burstSize
// headroom. A non-positive maxPerSecond disables limiting entirely.
func newRateLimiter(maxPerSecond, burstSize int, clock func() time.Time, sleep func(context.Context, time.Duration) error) *rateLimiter {
	rl := &rateLimiter{
		maxPerSec: float64(maxPerSecond),
		burst:     float64(burstSize),
		tokens:    float64(burstSize),
		clock:     clock,
		sleep:     sleep,
	}
	rl.lastRefill = clock()
	return rl
}

// acquire consumes one token, suspending the caller when the bucket is empty.
// The wait respects context cancellation.
func (rl *rateLimiter) acquire(ctx context.Context) error {
	if rl.maxPerSec <= 0 {
		return ctx.Err()
	}

	rl.mu.Lock()
	rl.refillLocked()
	if rl.tokens >= 1 {
		rl.tokens--
		rl.mu.Unlock()
		return nil
	}

	wait := time.Duration(1000.0 / rl.maxPerSec * float64(time.Millisecond))
	// Claim the refill window covering this wait; the token that accrues
	// during the sleep belongs to this caller.
	if target := rl.clock().Add(wait); target.After(rl.lastRefill) {
		rl.lastRefill = target
	}
	rl.mu.Unlock()

	return rl.sleep(ctx, wait)
}

// refillLocked adds tokens earned since the last refill point. A lastRefill
// in the future (claimed by a sleeping caller) accrues nothing. Assumes the
// lock is held.
func (rl *rateLimiter) refillLocked() {
	now := rl.clock()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	rl.tokens += elapsed * rl.maxPerSec
	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}
	rl.lastRefill = now
}
