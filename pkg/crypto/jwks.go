package crypto

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
)

// ErrKeyNotInSet is returned when no Ed25519 key in a key set matches.
var ErrKeyNotInSet = errors.New("no matching Ed25519 key in key set")

// KeySetFetcher retrieves an issuer's published JSON Web Key Set.
type KeySetFetcher interface {
	Fetch(ctx context.Context, url string) (*jose.JSONWebKeySet, error)
}

type keySetEntry struct {
	set       *jose.JSONWebKeySet
	expiresAt time.Time
}

// HTTPKeySetFetcher fetches key sets over HTTP and caches them for a TTL.
type HTTPKeySetFetcher struct {
	client *http.Client
	mu     sync.RWMutex
	cache  map[string]keySetEntry
	ttl    time.Duration
	now    func() time.Time
}

// NewHTTPKeySetFetcher creates a fetcher with a 10s client timeout and the given cache TTL.
// A zero TTL selects one hour.
func NewHTTPKeySetFetcher(ttl time.Duration) *HTTPKeySetFetcher {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &HTTPKeySetFetcher{
		client: &http.Client{Timeout: 10 * time.Second},
		cache:  make(map[string]keySetEntry),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Fetch returns the key set at url, served from cache while fresh.
func (f *HTTPKeySetFetcher) Fetch(ctx context.Context, url string) (*jose.JSONWebKeySet, error) {
	f.mu.RLock()
	entry, ok := f.cache[url]
	f.mu.RUnlock()
	if ok && f.now().Before(entry.expiresAt) {
		return entry.set, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch key set: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch key set: status %d", resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("failed to decode key set: %w", err)
	}

	f.mu.Lock()
	f.cache[url] = keySetEntry{set: &set, expiresAt: f.now().Add(f.ttl)}
	f.mu.Unlock()

	return &set, nil
}

// Flush drops all cached key sets.
func (f *HTTPKeySetFetcher) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache = make(map[string]keySetEntry)
}

// SelectEd25519 picks the Ed25519 key with the given kid from set. An empty
// kid selects the first Ed25519 key.
func SelectEd25519(set *jose.JSONWebKeySet, kid string) (ed25519.PublicKey, error) {
	if set == nil {
		return nil, ErrKeyNotInSet
	}
	for _, key := range set.Keys {
		if kid != "" && key.KeyID != kid {
			continue
		}
		pub, err := JWKToPublicKey(key)
		if err != nil {
			continue
		}
		return pub, nil
	}
	return nil, ErrKeyNotInSet
}
