// Package sharedstate is the small key/value capability the circuit breaker
// keeps its per-endpoint state in.
//
// Two variants exist. Redis shares state across every worker process and is
// the one to run in production. Local keeps state in process memory, so each
// process protects endpoints on its own view of their health; it is only
// suitable for single-instance deployments and tests.
package sharedstate

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get and Expire when the key is absent or expired.
var ErrNotFound = errors.New("courier: shared state key not found")

// Store is a get/set/compare-and-swap/expire key/value store.
//
// A ttl of zero means the key never expires.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// CompareAndSwap stores next only if the current value equals old. A nil
	// old means the key must be absent. It reports whether the swap happened.
	CompareAndSwap(ctx context.Context, key string, old, next []byte, ttl time.Duration) (bool, error)

	Expire(ctx context.Context, key string, ttl time.Duration) error
}
