// Package ratelimit throttles deliveries per endpoint with a token bucket
// whose rate and burst equal the endpoint's configured deliveries per second.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter implements token bucket rate limiting per endpoint.
type Limiter struct {
	mu      sync.Mutex
	now     func() time.Time
	buckets map[string]*rate.Limiter
}

// New creates a new rate limiter. A nil now uses time.Now.
func New(now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		now:     now,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Allow checks whether an endpoint is allowed to proceed.
// A rateLimit of 0 means unlimited (always returns true).
func (l *Limiter) Allow(endpointID string, rateLimit int) bool {
	ok, _ := l.Reserve(endpointID, rateLimit)
	return ok
}

// Reserve takes a token when one is available. Otherwise it reports how long
// until one will be, without consuming anything.
func (l *Limiter) Reserve(endpointID string, rateLimit int) (bool, time.Duration) {
	if rateLimit <= 0 {
		return true, 0
	}
	now := l.now()
	r := l.bucket(endpointID, rateLimit).ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	delay := r.DelayFrom(now)
	if delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Wait blocks until the rate limit allows the request or the context is cancelled.
// A rateLimit of 0 means unlimited (returns immediately).
func (l *Limiter) Wait(ctx context.Context, endpointID string, rateLimit int) error {
	if rateLimit <= 0 {
		return nil
	}
	return l.bucket(endpointID, rateLimit).Wait(ctx)
}

// Reset clears the rate limit state for an endpoint.
func (l *Limiter) Reset(endpointID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, endpointID)
}

func (l *Limiter) bucket(endpointID string, rateLimit int) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[endpointID]
	if !ok {
		b = rate.NewLimiter(rate.Limit(rateLimit), rateLimit)
		l.buckets[endpointID] = b
		return b
	}
	if b.Burst() != rateLimit {
		now := l.now()
		b.SetLimitAt(now, rate.Limit(rateLimit))
		b.SetBurstAt(now, rateLimit)
	}
	return b
}
