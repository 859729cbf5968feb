// Package revocation provides a local cache of revoked credential ids.
// Verifiers consult it for credentials presented as full payloads, which
// carry no server-side status of their own.
package revocation

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultStaleThreshold is the age after which a cache should be re-synced.
const DefaultStaleThreshold = 5 * time.Minute

// syncOverlap widens each incremental pull so revocations committed while
// the previous pull was in flight are not skipped. Sync is idempotent.
const syncOverlap = time.Minute

// Cache is a set of revoked credential ids.
type Cache interface {
	IsRevoked(credentialID string) bool

	// Add records a single revocation. Re-adding an id is a no-op.
	Add(credentialID string, revokedAt time.Time, reason string) error

	// Sync merges revocations from an authoritative source and marks the
	// cache fresh.
	Sync(revocations []Revocation) error

	LastSynced() time.Time
	IsStale(threshold time.Duration) bool
	Clear() error
}

// Revocation is one revoked credential.
type Revocation struct {
	CredentialID string    `json:"credential_id"`
	RevokedAt    time.Time `json:"revoked_at"`
	Reason       string    `json:"reason,omitempty"`
}

// Source lists revocations recorded since a point in time.
type Source interface {
	ListRevoked(ctx context.Context, since time.Time) ([]Revocation, error)
}

// Refresh pulls revocations recorded since the last sync from src into c.
// It returns the number of entries the source reported.
func Refresh(ctx context.Context, c Cache, src Source) (int, error) {
	since := c.LastSynced()
	if !since.IsZero() {
		since = since.Add(-syncOverlap)
	}
	revs, err := src.ListRevoked(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("failed to list revocations: %w", err)
	}
	if err := c.Sync(revs); err != nil {
		return 0, err
	}
	return len(revs), nil
}

// MemoryCache is an in-process Cache. The first revocation recorded for an
// id wins; later reports of the same id are ignored.
type MemoryCache struct {
	mu       sync.RWMutex
	entries  map[string]Revocation
	order    []string
	syncedAt time.Time
	now      func() time.Time
}

// NewMemoryCache creates an empty in-memory revocation cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]Revocation), now: time.Now}
}

// IsRevoked implements Cache.
func (c *MemoryCache) IsRevoked(credentialID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[credentialID]
	return ok
}

// Add implements Cache.
func (c *MemoryCache) Add(credentialID string, revokedAt time.Time, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insert(Revocation{CredentialID: credentialID, RevokedAt: revokedAt, Reason: reason})
	return nil
}

// Sync implements Cache.
func (c *MemoryCache) Sync(revocations []Revocation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rev := range revocations {
		c.insert(rev)
	}
	c.syncedAt = c.now()
	return nil
}

// LastSynced implements Cache.
func (c *MemoryCache) LastSynced() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.syncedAt
}

// IsStale implements Cache. A cache that was never synced is stale.
func (c *MemoryCache) IsStale(threshold time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.syncedAt.IsZero() || c.now().Sub(c.syncedAt) > threshold
}

// Clear implements Cache.
func (c *MemoryCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
	return nil
}

// Count returns the number of cached revocations.
func (c *MemoryCache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// insert reports whether rev was new. Callers hold mu.
func (c *MemoryCache) insert(rev Revocation) bool {
	if _, ok := c.entries[rev.CredentialID]; ok {
		return false
	}
	c.entries[rev.CredentialID] = rev
	c.order = append(c.order, rev.CredentialID)
	return true
}

func (c *MemoryCache) reset() {
	c.entries = make(map[string]Revocation)
	c.order = nil
	c.syncedAt = time.Time{}
}

// snapshot returns the entries in insertion order. Callers hold mu.
func (c *MemoryCache) snapshot() snapshot {
	revs := make([]Revocation, 0, len(c.order))
	for _, id := range c.order {
		revs = append(revs, c.entries[id])
	}
	return snapshot{SyncedAt: c.syncedAt, Revocations: revs}
}
