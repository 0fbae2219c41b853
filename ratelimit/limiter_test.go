package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter() (*Limiter, *fakeClock) {
	c := &fakeClock{now: time.Unix(1700000000, 0)}
	return New(c.Now), c
}

func TestAllow_Unlimited(t *testing.T) {
	l, _ := newTestLimiter()
	for range 100 {
		if !l.Allow("ep-1", 0) {
			t.Fatal("Allow(0) should always return true")
		}
	}
}

func TestAllow_RateLimited(t *testing.T) {
	l, _ := newTestLimiter()
	epID := "ep-limited"
	rateLimit := 2

	// First two should be allowed (bucket starts full).
	if !l.Allow(epID, rateLimit) {
		t.Fatal("first call should be allowed")
	}
	if !l.Allow(epID, rateLimit) {
		t.Fatal("second call should be allowed")
	}

	// Third should be denied (bucket exhausted).
	if l.Allow(epID, rateLimit) {
		t.Fatal("third call should be denied")
	}
}

func TestReserve_ReportsDelayWithoutConsuming(t *testing.T) {
	l, c := newTestLimiter()
	epID := "ep-delay"

	for range 10 {
		l.Allow(epID, 10)
	}

	ok, delay := l.Reserve(epID, 10)
	if ok {
		t.Fatal("should be denied after exhausting bucket")
	}
	if delay <= 0 || delay > 100*time.Millisecond {
		t.Fatalf("delay = %v, want (0, 100ms]", delay)
	}

	// A denied reservation must not push the next token further out.
	ok, again := l.Reserve(epID, 10)
	if ok || again > delay {
		t.Fatalf("second Reserve = %v, %v; want false, <= %v", ok, again, delay)
	}

	c.Advance(delay + time.Millisecond)
	if ok, _ := l.Reserve(epID, 10); !ok {
		t.Fatal("should be allowed after the reported delay")
	}
}

func TestAllow_Refills(t *testing.T) {
	l, c := newTestLimiter()
	epID := "ep-refill"

	for range 10 {
		l.Allow(epID, 10)
	}
	if l.Allow(epID, 10) {
		t.Fatal("should be denied after exhausting bucket")
	}

	c.Advance(200 * time.Millisecond)

	if !l.Allow(epID, 10) {
		t.Fatal("should be allowed after refill")
	}
}

func TestAllow_RateChange(t *testing.T) {
	l, c := newTestLimiter()
	epID := "ep-change"

	l.Allow(epID, 1)
	if l.Allow(epID, 5) {
		t.Fatal("raising the limit must not refill the bucket")
	}

	// 200ms refills one token at 5/s but only a fifth of one at 1/s.
	c.Advance(200*time.Millisecond + time.Millisecond)
	if !l.Allow(epID, 5) {
		t.Fatal("call at the raised rate should be allowed")
	}
}

func TestAllow_IndependentEndpoints(t *testing.T) {
	l, _ := newTestLimiter()

	l.Allow("ep-a", 1)
	if !l.Allow("ep-b", 1) {
		t.Fatal("endpoints must not share buckets")
	}
}

func TestReset(t *testing.T) {
	l, _ := newTestLimiter()
	epID := "ep-reset"

	l.Allow(epID, 1)
	if l.Allow(epID, 1) {
		t.Fatal("should be denied")
	}

	l.Reset(epID)

	if !l.Allow(epID, 1) {
		t.Fatal("should be allowed after reset")
	}
}

func TestWait_Unlimited(t *testing.T) {
	l, _ := newTestLimiter()
	if err := l.Wait(context.Background(), "ep", 0); err != nil {
		t.Fatal(err)
	}
}

func TestWait_ContextCancelled(t *testing.T) {
	l := New(nil)
	epID := "ep-wait"

	l.Allow(epID, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := l.Wait(ctx, epID, 1); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
