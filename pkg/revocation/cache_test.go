package revocation_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentid-dev/agentid-core/pkg/revocation"
)

func TestFileCache(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "revocations.json")

	cache, err := revocation.NewFileCache(cachePath)
	require.NoError(t, err)

	t.Run("Initial state", func(t *testing.T) {
		assert.False(t, cache.IsRevoked("cred-1"))
		assert.True(t, cache.IsStale(revocation.DefaultStaleThreshold))
		assert.Equal(t, 0, cache.Count())
	})

	t.Run("Add and check", func(t *testing.T) {
		require.NoError(t, cache.Add("cred-1", time.Now(), "key leaked"))
		require.NoError(t, cache.Add("cred-1", time.Now(), "duplicate"))

		assert.True(t, cache.IsRevoked("cred-1"))
		assert.False(t, cache.IsRevoked("cred-2"))
		assert.Equal(t, 1, cache.Count())
	})

	t.Run("Sync", func(t *testing.T) {
		err := cache.Sync([]revocation.Revocation{
			{CredentialID: "cred-2", RevokedAt: time.Now()},
			{CredentialID: "cred-3", RevokedAt: time.Now()},
		})
		require.NoError(t, err)

		assert.True(t, cache.IsRevoked("cred-2"))
		assert.True(t, cache.IsRevoked("cred-3"))
		assert.Equal(t, 3, cache.Count())
		assert.False(t, cache.LastSynced().IsZero())
		assert.False(t, cache.IsStale(time.Hour))
	})

	t.Run("Persistence", func(t *testing.T) {
		reopened, err := revocation.NewFileCache(cachePath)
		require.NoError(t, err)
		assert.True(t, reopened.IsRevoked("cred-1"))
		assert.True(t, reopened.IsRevoked("cred-3"))
		assert.Equal(t, 3, reopened.Count())
	})

	t.Run("Clear", func(t *testing.T) {
		require.NoError(t, cache.Clear())
		assert.False(t, cache.IsRevoked("cred-1"))
		assert.Equal(t, 0, cache.Count())
		assert.True(t, cache.IsStale(revocation.DefaultStaleThreshold))
		_, err := os.Stat(cachePath)
		assert.True(t, os.IsNotExist(err))
	})
}

func TestFileCache_CorruptFileStartsEmpty(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "revocations.json")
	require.NoError(t, os.WriteFile(cachePath, []byte("{not json"), 0600))

	cache, err := revocation.NewFileCache(cachePath)
	require.NoError(t, err)
	assert.Equal(t, 0, cache.Count())
	require.NoError(t, cache.Add("cred-1", time.Now(), ""))
}

func TestMemoryCache(t *testing.T) {
	cache := revocation.NewMemoryCache()
	assert.False(t, cache.IsRevoked("cred-1"))
	assert.True(t, cache.IsStale(revocation.DefaultStaleThreshold))

	require.NoError(t, cache.Add("cred-1", time.Now(), ""))
	assert.True(t, cache.IsRevoked("cred-1"))

	require.NoError(t, cache.Sync([]revocation.Revocation{{CredentialID: "cred-2"}}))
	assert.True(t, cache.IsRevoked("cred-2"))
	assert.False(t, cache.IsStale(time.Minute))

	require.NoError(t, cache.Clear())
	assert.False(t, cache.IsRevoked("cred-1"))
}

type staticSource struct {
	revs  []revocation.Revocation
	since []time.Time
}

func (s *staticSource) ListRevoked(_ context.Context, since time.Time) ([]revocation.Revocation, error) {
	s.since = append(s.since, since)
	return s.revs, nil
}

func TestRefresh(t *testing.T) {
	cache := revocation.NewMemoryCache()
	src := &staticSource{revs: []revocation.Revocation{{CredentialID: "cred-9", Reason: "compromised"}}}

	n, err := revocation.Refresh(context.Background(), cache, src)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, cache.IsRevoked("cred-9"))
	assert.True(t, src.since[0].IsZero())

	_, err = revocation.Refresh(context.Background(), cache, src)
	require.NoError(t, err)
	assert.False(t, src.since[1].IsZero())
}

func TestDefaultCacheDir(t *testing.T) {
	t.Setenv("AGENTID_CACHE_PATH", "/custom/cache")
	assert.Equal(t, "/custom/cache", revocation.DefaultCacheDir())

	t.Setenv("AGENTID_CACHE_PATH", "")
	assert.Contains(t, revocation.DefaultCacheDir(), filepath.Join(".agentid", "cache"))
}
