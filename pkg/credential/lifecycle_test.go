package credential

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentid-dev/agentid-core/pkg/crypto"
	"github.com/agentid-dev/agentid-core/pkg/notify"
)

type recordingSink struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingSink) Emit(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type memoryRevocations struct {
	ids map[string]string
}

func (m *memoryRevocations) IsRevoked(id string) bool {
	_, ok := m.ids[id]
	return ok
}

func (m *memoryRevocations) Add(id string, _ time.Time, reason string) error {
	m.ids[id] = reason
	return nil
}

func newLifecycle(t *testing.T, f *fixture) (*Lifecycle, *recordingSink, *memoryRevocations) {
	t.Helper()
	sink := &recordingSink{}
	revs := &memoryRevocations{ids: map[string]string{}}
	lc, err := NewLifecycle(LifecycleConfig{
		Credentials: f.store,
		Issuers:     f.store,
		Revocations: revs,
		Reputation:  f.rep,
		Notifier:    sink,
		Now:         func() time.Time { return f.clock },
	})
	require.NoError(t, err)
	return lc, sink, revs
}

func TestLifecycle_CreateThenVerify(t *testing.T) {
	f := newFixture(t)
	lc, _, _ := newLifecycle(t, f)

	p := f.payload("")
	p.Constraints.ValidFrom = now.Add(-time.Hour).Add(123 * time.Millisecond)
	c, err := lc.Create(context.Background(), p, f.keys.Private, IssueOptions{OwnerID: "user-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, c.CredentialID)
	assert.Equal(t, StatusActive, c.Status)
	assert.Equal(t, "user-1", c.OwnerID)
	assert.Zero(t, c.Constraints.ValidFrom.Nanosecond())

	res := f.verifier.Verify(context.Background(), Request{CredentialID: c.CredentialID})
	assert.True(t, res.Valid, "error: %+v", res.Error)
}

func TestLifecycle_CreateRejectsForeignKey(t *testing.T) {
	f := newFixture(t)
	lc, _, _ := newLifecycle(t, f)
	other, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	_, err = lc.Create(context.Background(), f.payload("cred-1"), other.Private, IssueOptions{})
	assert.ErrorIs(t, err, ErrInvalidSignature)

	p := f.payload("cred-1")
	p.AgentName = ""
	_, err = lc.Create(context.Background(), p, f.keys.Private, IssueOptions{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestLifecycle_Revoke(t *testing.T) {
	f := newFixture(t)
	lc, sink, revs := newLifecycle(t, f)
	ctx := context.Background()
	f.save(t, f.payload("cred-1"))
	require.True(t, f.verifier.Verify(ctx, Request{CredentialID: "cred-1"}).Valid)

	c, err := lc.Revoke(ctx, "cred-1", "key leaked")
	require.NoError(t, err)
	assert.Equal(t, StatusRevoked, c.Status)
	require.NotNil(t, c.RevokedAt)
	assert.Equal(t, "key leaked", revs.ids["cred-1"])
	assert.Equal(t, []string{notify.EventCredentialRevoked}, sink.types())

	res := f.verifier.Verify(ctx, Request{CredentialID: "cred-1"})
	require.NotNil(t, res.Error)
	assert.Equal(t, CodeRevoked, res.Error.Code)

	rec, err := f.rep.Get(ctx, "cred-1")
	require.NoError(t, err)
	assert.True(t, rec.Revoked)

	// Second revoke is a no-op.
	before := rec.TrustScore
	_, err = lc.Revoke(ctx, "cred-1", "again")
	require.NoError(t, err)
	rec, err = f.rep.Get(ctx, "cred-1")
	require.NoError(t, err)
	assert.InDelta(t, before, rec.TrustScore, 1e-9)
	assert.Len(t, sink.types(), 1)

	_, err = lc.Revoke(ctx, "missing", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLifecycle_Renew(t *testing.T) {
	f := newFixture(t)
	lc, sink, _ := newLifecycle(t, f)
	ctx := context.Background()
	f.save(t, f.payload("cred-1"))

	f.clock = now.Add(48 * time.Hour)
	res := f.verifier.Verify(ctx, Request{CredentialID: "cred-1"})
	require.Equal(t, CodeExpired, res.Code())

	c, err := lc.Renew(ctx, "cred-1", f.clock, f.clock.Add(30*24*time.Hour), f.keys.Private)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Add(30*24*time.Hour), c.Constraints.ValidUntil)
	assert.Equal(t, []string{notify.EventCredentialRenewed}, sink.types())

	res = f.verifier.Verify(ctx, Request{CredentialID: "cred-1"})
	assert.True(t, res.Valid, "error: %+v", res.Error)

	_, err = lc.Revoke(ctx, "cred-1", "")
	require.NoError(t, err)
	_, err = lc.Renew(ctx, "cred-1", f.clock, f.clock.Add(time.Hour), f.keys.Private)
	assert.ErrorIs(t, err, ErrRevoked)

	_, err = lc.Renew(ctx, "missing", f.clock, f.clock.Add(time.Hour), f.keys.Private)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLifecycle_RenewRejectsInvertedWindow(t *testing.T) {
	f := newFixture(t)
	lc, _, _ := newLifecycle(t, f)
	f.save(t, f.payload("cred-1"))

	_, err := lc.Renew(context.Background(), "cred-1", now, now.Add(-time.Hour), f.keys.Private)
	assert.Equal(t, CodeValidation, GetErrorCode(err))
}

func TestLifecycle_MarkIssuerVerified(t *testing.T) {
	f := newFixture(t)
	lc, sink, _ := newLifecycle(t, f)
	ctx := context.Background()
	f.save(t, f.payload("cred-1"))
	require.True(t, f.verifier.Verify(ctx, Request{CredentialID: "cred-1"}).Valid)

	before, err := f.rep.Get(ctx, "cred-1")
	require.NoError(t, err)

	require.NoError(t, lc.MarkIssuerVerified(ctx, f.issuer.ID))
	iss, err := f.store.GetIssuer(ctx, f.issuer.ID)
	require.NoError(t, err)
	assert.True(t, iss.Verified)
	assert.Contains(t, sink.types(), notify.EventIssuerVerified)

	after, err := f.rep.Get(ctx, "cred-1")
	require.NoError(t, err)
	assert.InDelta(t, before.TrustScore+10, after.TrustScore, 1e-9)

	// The bonus is granted once.
	require.NoError(t, lc.MarkIssuerVerified(ctx, f.issuer.ID))
	again, err := f.rep.Get(ctx, "cred-1")
	require.NoError(t, err)
	assert.InDelta(t, after.TrustScore, again.TrustScore, 1e-9)

	res := f.verifier.Verify(ctx, Request{CredentialID: "cred-1"})
	require.True(t, res.Valid)
	assert.True(t, res.Credential.Issuer.Verified)

	assert.ErrorIs(t, lc.MarkIssuerVerified(ctx, "iss-ghost"), ErrIssuerNotFound)
}
