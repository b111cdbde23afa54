package cache

import (
	"sync"
	"time"

	"liaison/internal/domain/credential"
)

// LocalCacheTTL bounds how long a token bundle may be served from process
// memory without re-validation against the shared tiers. It doubles as the
// refresh threshold: a token within this window of expiry is never trusted
// to outlive a local entry.
const LocalCacheTTL = 3 * time.Minute

type localEntry struct {
	bundle    *credential.TokenBundle
	expiresAt time.Time
}

// LocalTokenCache is the process-local tier. It is an explicit, injectable
// object rather than package state, so independent instances can coexist
// and tests stay isolated. Entries are swept lazily on access, never by a
// timer. Disposable at any time without correctness loss.
type LocalTokenCache struct {
	mu      sync.Mutex
	entries map[string]localEntry
	now     func() time.Time
}

// NewLocalTokenCache creates an empty LocalTokenCache.
func NewLocalTokenCache() *LocalTokenCache {
	return &LocalTokenCache{
		entries: make(map[string]localEntry),
		now:     time.Now,
	}
}

// Get returns the live bundle for the user, or nil when absent or expired.
// It re-validates both the local expiry and the token's own expiry.
func (c *LocalTokenCache) Get(userID string) *credential.TokenBundle {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[userID]
	if !ok {
		return nil
	}
	now := c.now()
	if !entry.expiresAt.After(now) || !entry.bundle.ExpiresAt.After(now) {
		delete(c.entries, userID)
		return nil
	}
	return entry.bundle
}

// Put stores the bundle with local expiry = now + LocalCacheTTL, capped at
// the bundle's own remaining lifetime. Bundles that are already expired are
// not stored.
func (c *LocalTokenCache) Put(userID string, bundle *credential.TokenBundle) {
	now := c.now()
	expiresAt := now.Add(LocalCacheTTL)
	if bundle.ExpiresAt.Before(expiresAt) {
		expiresAt = bundle.ExpiresAt
	}
	if !expiresAt.After(now) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = localEntry{bundle: bundle, expiresAt: expiresAt}
}

// Sweep removes every entry whose local expiry or token expiry has passed.
// Called opportunistically before each lookup.
func (c *LocalTokenCache) Sweep() {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	for userID, entry := range c.entries {
		if !entry.expiresAt.After(now) || !entry.bundle.ExpiresAt.After(now) {
			delete(c.entries, userID)
		}
	}
}

// Delete removes a single user's entry.
func (c *LocalTokenCache) Delete(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}

// Clear empties the cache. Used by administrative reset.
func (c *LocalTokenCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]localEntry)
}

// Len reports the number of entries, expired or not.
func (c *LocalTokenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
