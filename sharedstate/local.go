package sharedstate

import (
	"bytes"
	"context"
	"sync"
	"time"
)

var _ Store = (*Local)(nil)

type localEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// Local is an in-process Store.
type Local struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]localEntry
}

// NewLocal returns an empty Local store. A nil now uses time.Now.
func NewLocal(now func() time.Time) *Local {
	if now == nil {
		now = time.Now
	}
	return &Local{
		now:     now,
		entries: make(map[string]localEntry),
	}
}

// lookup returns the live entry for key. Callers hold mu.
func (l *Local) lookup(key string) (localEntry, bool) {
	e, ok := l.entries[key]
	if !ok {
		return localEntry{}, false
	}
	if !e.expiresAt.IsZero() && !l.now().Before(e.expiresAt) {
		delete(l.entries, key)
		return localEntry{}, false
	}
	return e, true
}

func (l *Local) store(key string, value []byte, ttl time.Duration) {
	e := localEntry{value: bytes.Clone(value)}
	if ttl > 0 {
		e.expiresAt = l.now().Add(ttl)
	}
	l.entries[key] = e
}

func (l *Local) Get(_ context.Context, key string) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.lookup(key)
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(e.value), nil
}

func (l *Local) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.store(key, value, ttl)
	return nil
}

func (l *Local) CompareAndSwap(_ context.Context, key string, old, next []byte, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.lookup(key)
	switch {
	case old == nil && ok:
		return false, nil
	case old != nil && (!ok || !bytes.Equal(e.value, old)):
		return false, nil
	}
	l.store(key, next, ttl)
	return true, nil
}

func (l *Local) Expire(_ context.Context, key string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.lookup(key)
	if !ok {
		return ErrNotFound
	}
	if ttl > 0 {
		e.expiresAt = l.now().Add(ttl)
	} else {
		e.expiresAt = time.Time{}
	}
	l.entries[key] = e
	return nil
}
