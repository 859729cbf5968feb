package credential

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// DefaultCacheTTL is how long a verified signature stays cached.
const DefaultCacheTTL = 5 * time.Minute

type cacheEntry struct {
	issuer    *Issuer
	digest    string
	expiresAt time.Time
}

// Cache remembers, per credential id, the issuer and a digest of the exact
// canonical bytes and signature that last verified. A by-id verification
// whose stored payload still hashes to the digest skips the issuer lookup
// and the signature check. The credential itself, and so its status and
// validity window, is always read from the repository.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewCache creates a Cache. A zero ttl selects DefaultCacheTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{entries: make(map[string]cacheEntry), ttl: ttl, now: time.Now}
}

// SignatureDigest identifies a signed message for Cache entries.
func SignatureDigest(msg []byte, signature string) string {
	h := sha256.New()
	h.Write(msg)
	h.Write([]byte{0})
	h.Write([]byte(signature))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached issuer and signature digest for id.
func (c *Cache) Get(id string) (*Issuer, string, bool) {
	if c == nil {
		return nil, "", false
	}
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expiresAt) {
		return nil, "", false
	}
	iss := *e.issuer
	return &iss, e.digest, true
}

// Put records that digest verified under issuer. The entry never outlives
// validUntil.
func (c *Cache) Put(id string, issuer *Issuer, digest string, validUntil time.Time) {
	if c == nil {
		return
	}
	exp := c.now().Add(c.ttl)
	if validUntil.Before(exp) {
		exp = validUntil
	}
	iss := *issuer
	c.mu.Lock()
	c.entries[id] = cacheEntry{issuer: &iss, digest: digest, expiresAt: exp}
	c.mu.Unlock()
}

// Invalidate drops id.
func (c *Cache) Invalidate(id string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// InvalidateIssuer drops every entry verified under issuerID.
func (c *Cache) InvalidateIssuer(issuerID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, e := range c.entries {
		if e.issuer.ID == issuerID {
			delete(c.entries, id)
		}
	}
}

// Len returns the number of live and expired entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
