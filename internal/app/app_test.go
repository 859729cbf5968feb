package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentid-dev/agentid-core/internal/config"
	"github.com/agentid-dev/agentid-core/pkg/a2a"
	"github.com/agentid-dev/agentid-core/pkg/credential"
	"github.com/agentid-dev/agentid-core/pkg/permission"
	"github.com/agentid-dev/agentid-core/pkg/revocation"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type staticSource struct {
	revs []revocation.Revocation
}

func (s staticSource) ListRevoked(context.Context, time.Time) ([]revocation.Revocation, error) {
	return s.revs, nil
}

func TestNew_InMemory(t *testing.T) {
	a, err := New(config.Config{SweepInterval: time.Hour, Workers: 1}, quietLogger())
	require.NoError(t, err)

	a.Start()
	res := a.Verifier.Verify(context.Background(), credential.Request{CredentialID: "missing"})
	assert.Equal(t, credential.CodeNotFound, res.Code())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Close(ctx))
	require.NoError(t, a.Close(ctx), "close is idempotent")
}

func TestNew_SQLiteAndTrustDir(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Config{
		DBPath:              filepath.Join(dir, "agentid.db"),
		TrustDir:            filepath.Join(dir, "trust"),
		RevocationCachePath: filepath.Join(dir, "revocations.json"),
		SweepInterval:       time.Hour,
		Workers:             1,
	}
	a, err := New(cfg, quietLogger())
	require.NoError(t, err)
	defer func() { _ = a.Close(context.Background()) }()

	_, err = a.Repos.Issuers.GetIssuer(context.Background(), "nobody")
	assert.ErrorIs(t, err, credential.ErrIssuerNotFound)

	ids, err := a.A2A.ExpireSweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NotNil(t, a.Repos.Conversations)
	_, isMemory := a.Repos.Conversations.(*a2a.MemoryStore)
	assert.False(t, isMemory, "conversations persist in sqlite")
	_, total, err := a.A2A.ListConversations(context.Background(), a2a.ConversationFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestSyncRevocations(t *testing.T) {
	src := staticSource{revs: []revocation.Revocation{{CredentialID: "cred-9", RevokedAt: time.Now(), Reason: "leaked"}}}
	a, err := NewWithRepositories(config.Config{SweepInterval: time.Hour}, quietLogger(), Repositories{RevocationSource: src})
	require.NoError(t, err)
	defer func() { _ = a.Close(context.Background()) }()

	n, err := a.SyncRevocations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, a.Repos.Revocations.IsRevoked("cred-9"))
}

func TestNew_RedisRateStoreUsesNamespacedKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	a, err := New(config.Config{RedisAddr: mr.Addr(), SweepInterval: time.Hour, Workers: 1}, quietLogger())
	require.NoError(t, err)
	defer func() { _ = a.Close(context.Background()) }()

	res, err := a.Evaluator.Enforce(context.Background(), "cred-1", "read:x", &permission.Conditions{MaxRequestsPerMinute: 1}, permission.Context{})
	require.NoError(t, err)
	assert.True(t, res.Granted)
	assert.True(t, mr.Exists("agentid:ratelimit:cred-1|read:x"))
}
