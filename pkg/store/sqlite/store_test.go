package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentid-dev/agentid-core/pkg/a2a"
	"github.com/agentid-dev/agentid-core/pkg/a2a/storetest"
	"github.com/agentid-dev/agentid-core/pkg/credential"
	"github.com/agentid-dev/agentid-core/pkg/reputation"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "agentid.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestA2AStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) a2a.Store { return openTestStore(t).A2A() })
}

func TestConversationStore(t *testing.T) {
	storetest.RunConversations(t, func(t *testing.T) a2a.ConversationStore { return openTestStore(t).Conversations() })
}

func TestReputationStore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	engine := reputation.NewEngine(s.Reputation(), reputation.WithClock(func() time.Time { return at }))
	_, err := s.Reputation().Get(ctx, "cred-1")
	assert.ErrorIs(t, err, reputation.ErrNotFound)

	for _, id := range []string{"cred-1", "cred-2"} {
		_, err := engine.Apply(ctx, reputation.Event{
			Type:               reputation.EventVerificationSuccess,
			CredentialID:       id,
			IssuerID:           "iss-1",
			CredentialIssuedAt: at,
		})
		require.NoError(t, err)
	}
	rec, err := engine.Apply(ctx, reputation.Event{
		Type:         reputation.EventVerificationFailure,
		CredentialID: "cred-1",
		IssuerID:     "iss-1",
		Failure:      reputation.FailureExpired,
	})
	require.NoError(t, err)

	got, err := s.Reputation().Get(ctx, "cred-1")
	require.NoError(t, err)
	assert.InDelta(t, rec.TrustScore, got.TrustScore, 1e-9)
	assert.Equal(t, 2, got.VerificationCount)
	assert.Len(t, got.History, 3)

	list, err := s.Reputation().ListByIssuer(ctx, "iss-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "cred-1", list[0].CredentialID)

	changed, err := engine.ApplyIssuerVerified(ctx, "iss-1", at)
	require.NoError(t, err)
	assert.Len(t, changed, 2)
	got, err = s.Reputation().Get(ctx, "cred-2")
	require.NoError(t, err)
	assert.True(t, got.IssuerBonusApplied)
}

func TestVerificationLog(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	granted := false

	require.NoError(t, s.RecordVerification(ctx, credential.LogEntry{
		ID: "log-1", CredentialID: "cred-1", Valid: true, DurationMs: 1.5, Timestamp: at,
	}))
	require.NoError(t, s.RecordVerification(ctx, credential.LogEntry{
		ID: "log-2", CredentialID: "cred-1", Valid: true, Action: "delete:users", Granted: &granted,
		DurationMs: 2, Timestamp: at.Add(time.Second),
	}))
	require.NoError(t, s.RecordVerification(ctx, credential.LogEntry{
		ID: "log-3", CredentialID: "cred-2", Valid: false, Code: credential.CodeExpired, Timestamp: at,
	}))

	entries, err := s.Verifications(ctx, "cred-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "log-2", entries[0].ID)
	require.NotNil(t, entries[0].Granted)
	assert.False(t, *entries[0].Granted)
	assert.Nil(t, entries[1].Granted)
	assert.True(t, entries[1].Timestamp.Equal(at))

	all, err := s.Verifications(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentid.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.A2A().Insert(context.Background(), &a2a.Authorization{
		ID: "a1", RequesterCredentialID: "r", GrantorCredentialID: "g",
		RequestedPermissions: []byte(`["read:*"]`), Status: a2a.StatusPending,
		ValidUntil: time.Now().Add(time.Hour), CreatedAt: time.Now(),
	}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	got, err := s.A2A().Get(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, a2a.StatusPending, got.Status)
}
