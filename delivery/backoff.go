package delivery

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes retry delays: Base * Multiplier^(attempt-1), capped at
// Max, plus uniform jitter in [0, Jitter*delay].
type Backoff struct {
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
	Jitter     float64

	// Rand returns a value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
}

// DefaultBackoff returns 30s, doubling, capped at an hour, with 20% jitter.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:       30 * time.Second,
		Multiplier: 2,
		Max:        time.Hour,
		Jitter:     0.2,
	}
}

// base returns the un-jittered delay after the given attempt (1-based).
func (b Backoff) base(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(b.Base) * math.Pow(mult, float64(attempt-1))
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Bounds returns the smallest and largest delay Delay can produce.
func (b Backoff) Bounds(attempt int) (lo, hi time.Duration) {
	lo = b.base(attempt)
	return lo, lo + time.Duration(b.Jitter*float64(lo))
}

// Delay returns the jittered delay after the given attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.base(attempt)
	if b.Jitter <= 0 {
		return d
	}
	r := rand.Float64
	if b.Rand != nil {
		r = b.Rand
	}
	return d + time.Duration(r()*b.Jitter*float64(d))
}
