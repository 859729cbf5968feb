package revocation

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrCacheCorrupt is returned when the cache file cannot be decoded.
var ErrCacheCorrupt = errors.New("revocation cache is corrupt")

// snapshot is the on-disk form of a cache.
type snapshot struct {
	SyncedAt    time.Time    `json:"synced_at"`
	Revocations []Revocation `json:"revocations"`
}

// FileCache is a MemoryCache persisted to a JSON file after every change,
// so a verifier restarted offline keeps its revocation list.
type FileCache struct {
	MemoryCache
	path string
}

// DefaultCacheDir returns the default revocation cache directory.
func DefaultCacheDir() string {
	if envPath := os.Getenv("AGENTID_CACHE_PATH"); envPath != "" {
		return envPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentid/cache"
	}
	return filepath.Join(home, ".agentid", "cache")
}

// NewFileCache opens the cache at path, or revocations.json under
// DefaultCacheDir when path is empty. A corrupt file is treated as empty
// and overwritten on the next change.
func NewFileCache(path string) (*FileCache, error) {
	if path == "" {
		path = filepath.Join(DefaultCacheDir(), "revocations.json")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	c := &FileCache{
		MemoryCache: MemoryCache{entries: make(map[string]Revocation), now: time.Now},
		path:        path,
	}
	snap, err := readSnapshot(path)
	switch {
	case err == nil:
		for _, rev := range snap.Revocations {
			c.insert(rev)
		}
		c.syncedAt = snap.SyncedAt
	case errors.Is(err, os.ErrNotExist), errors.Is(err, ErrCacheCorrupt):
	default:
		return nil, err
	}
	return c, nil
}

// Add implements Cache.
func (c *FileCache) Add(credentialID string, revokedAt time.Time, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.insert(Revocation{CredentialID: credentialID, RevokedAt: revokedAt, Reason: reason}) {
		return nil
	}
	return c.persist()
}

// Sync implements Cache.
func (c *FileCache) Sync(revocations []Revocation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rev := range revocations {
		c.insert(rev)
	}
	c.syncedAt = c.now()
	return c.persist()
}

// Clear empties the cache and deletes its file.
func (c *FileCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove cache file: %w", err)
	}
	return nil
}

// persist writes the cache through a temp file and rename. Callers hold mu.
func (c *FileCache) persist() error {
	data, err := json.MarshalIndent(c.snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return nil
}

func readSnapshot(path string) (snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return snapshot{}, err
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return snapshot{}, fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
	}
	return snap, nil
}
