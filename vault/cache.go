package vault

import (
	"sync"
	"time"
)

type cacheEntry struct {
	ciphertext string
	secret     string
	expiresAt  time.Time
}

// secretCache holds decrypted secrets keyed by endpoint ID.
type secretCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

func newSecretCache(ttl time.Duration, now func() time.Time) *secretCache {
	return &secretCache{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *secretCache) get(endpointID, ciphertext string) (string, bool) {
	if c.ttl <= 0 {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[endpointID]
	if !ok {
		return "", false
	}
	if e.ciphertext != ciphertext || !c.now().Before(e.expiresAt) {
		delete(c.entries, endpointID)
		return "", false
	}
	return e.secret, true
}

func (c *secretCache) put(endpointID, ciphertext, secret string) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[endpointID] = cacheEntry{
		ciphertext: ciphertext,
		secret:     secret,
		expiresAt:  c.now().Add(c.ttl),
	}
}

func (c *secretCache) clear(endpointIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(endpointIDs) == 0 {
		clear(c.entries)
		return
	}
	for _, epID := range endpointIDs {
		delete(c.entries, epID)
	}
}

func (c *secretCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
