package infra

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements a weighted token bucket.
// Thread-safe and shared by every REST caller in the process; exchange
// endpoints consume request weight rather than a flat request count.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewRateLimiter creates a bucket holding capacity tokens that refills
// continuously over period. The bucket starts full.
func NewRateLimiter(capacity float64, period time.Duration) *RateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if period <= 0 {
		period = time.Second
	}
	return &RateLimiter{
		tokens:     capacity,
		maxTokens:  capacity,
		refillRate: capacity / period.Seconds(),
		lastRefill: time.Now(),
	}
}

// Wait blocks until weight tokens are available, then consumes them.
// It cannot fail, only delay.
func (r *RateLimiter) Wait(weight float64) {
	_ = r.acquire(context.Background(), weight)
}

// WaitContext behaves like Wait but gives up when ctx is done.
func (r *RateLimiter) WaitContext(ctx context.Context, weight float64) error {
	return r.acquire(ctx, weight)
}

// TryAcquire consumes weight tokens if they are immediately available.
// Returns true if the tokens were acquired, false otherwise.
func (r *RateLimiter) TryAcquire(weight float64) bool {
	weight = r.clamp(weight)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	if r.tokens >= weight {
		r.tokens -= weight
		return true
	}
	return false
}

func (r *RateLimiter) acquire(ctx context.Context, weight float64) error {
	weight = r.clamp(weight)

	for {
		r.mu.Lock()
		r.refill()
		if r.tokens >= weight {
			r.tokens -= weight
			r.mu.Unlock()
			return nil
		}
		deficit := weight - r.tokens
		wait := time.Duration(deficit / r.refillRate * float64(time.Second))
		r.mu.Unlock()

		// Sleep with the mutex released so other callers keep moving.
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// clamp caps a request at bucket capacity so an oversized weight cannot
// block forever. maxTokens is immutable after construction.
func (r *RateLimiter) clamp(weight float64) float64 {
	if weight <= 0 {
		return 1
	}
	if weight > r.maxTokens {
		return r.maxTokens
	}
	return weight
}

// refill adds tokens based on elapsed time.
// Must be called with mutex held.
func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastRefill).Seconds()
	r.tokens += elapsed * r.refillRate

	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}

	r.lastRefill = now
}
