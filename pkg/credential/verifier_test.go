package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentid-dev/agentid-core/pkg/crypto"
	"github.com/agentid-dev/agentid-core/pkg/permission"
	"github.com/agentid-dev/agentid-core/pkg/reputation"
)

var now = time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)

type fixture struct {
	store    *MemoryStore
	keys     *crypto.KeyPair
	issuer   *Issuer
	verifier *Verifier
	rep      *reputation.Engine
	logs     *bytes.Buffer
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	f := &fixture{
		store: NewMemoryStore(),
		keys:  kp,
		issuer: &Issuer{
			ID:        "iss-acme",
			Name:      "Acme",
			PublicKey: kp.PublicKeyBase64(),
		},
		logs:  &bytes.Buffer{},
		clock: now,
	}
	require.NoError(t, f.store.SaveIssuer(context.Background(), f.issuer))

	clock := func() time.Time { return f.clock }
	f.rep = reputation.NewEngine(reputation.NewMemoryStore(), reputation.WithClock(clock))
	f.verifier, err = NewVerifier(VerifierConfig{
		Credentials: f.store,
		Issuers:     f.store,
		Policies:    f.store,
		Evaluator:   permission.NewEvaluator(nil, permission.WithClock(clock)),
		Reputation:  f.rep,
		Log:         f.store,
		Logger:      slog.New(slog.NewJSONHandler(f.logs, nil)),
		Now:         clock,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) payload(id string) Payload {
	return Payload{
		CredentialID: id,
		AgentID:      "agent-1",
		AgentName:    "Research Bot",
		AgentType:    "assistant",
		Issuer:       IssuerInfo{IssuerID: f.issuer.ID, Name: f.issuer.Name},
		Permissions:  json.RawMessage(`["read:*",{"action":"transact:payment","conditions":{"max_requests_per_minute":2}}]`),
		Constraints: Constraints{
			ValidFrom:  now.Add(-time.Hour),
			ValidUntil: now.Add(24 * time.Hour),
		},
	}
}

func (f *fixture) save(t *testing.T, p Payload) *Credential {
	t.Helper()
	signed, err := Issue(p, f.keys.Private)
	require.NoError(t, err)
	c := &Credential{Payload: signed, Status: StatusActive, IssuedAt: now.Add(-time.Hour)}
	require.NoError(t, f.store.Save(context.Background(), c))
	return c
}

func TestVerify_ValidByID(t *testing.T) {
	f := newFixture(t)
	f.save(t, f.payload("cred-1"))

	res := f.verifier.Verify(context.Background(), Request{CredentialID: "cred-1"})
	require.True(t, res.Valid, "error: %+v", res.Error)
	require.NotNil(t, res.Credential)
	assert.Equal(t, "agent-1", res.Credential.AgentID)
	assert.Equal(t, "Research Bot", res.Credential.AgentName)
	assert.Equal(t, "iss-acme", res.Credential.Issuer.ID)
	assert.Len(t, res.Credential.Permissions, 2)
	assert.Equal(t, now.Add(24*time.Hour), res.Credential.ValidUntil)
	assert.GreaterOrEqual(t, res.VerificationTimeMs, 0.0)
	assert.Nil(t, res.Error)

	logs := f.store.Verifications()
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Valid)
	assert.Equal(t, "cred-1", logs[0].CredentialID)

	rec, err := f.rep.Get(context.Background(), "cred-1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.SuccessCount)

	res = f.verifier.Verify(context.Background(), Request{CredentialID: "cred-1"})
	require.True(t, res.Valid)
	require.NotNil(t, res.TrustScore)
	assert.InDelta(t, rec.TrustScore, *res.TrustScore, 1e-9)
}

func TestVerify_Failures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f *fixture) Request
		code  string
	}{
		{
			name:  "unknown credential",
			setup: func(t *testing.T, f *fixture) Request { return Request{CredentialID: "nope"} },
			code:  CodeNotFound,
		},
		{
			name: "revoked",
			setup: func(t *testing.T, f *fixture) Request {
				f.save(t, f.payload("cred-1"))
				require.NoError(t, f.store.UpdateStatus(context.Background(), "cred-1", StatusRevoked, "compromised", now))
				return Request{CredentialID: "cred-1"}
			},
			code: CodeRevoked,
		},
		{
			name: "suspended",
			setup: func(t *testing.T, f *fixture) Request {
				f.save(t, f.payload("cred-1"))
				require.NoError(t, f.store.UpdateStatus(context.Background(), "cred-1", StatusSuspended, "", now))
				return Request{CredentialID: "cred-1"}
			},
			code: CodeRevoked,
		},
		{
			name: "expired exactly at valid_until",
			setup: func(t *testing.T, f *fixture) Request {
				f.save(t, f.payload("cred-1"))
				f.clock = now.Add(24 * time.Hour)
				return Request{CredentialID: "cred-1"}
			},
			code: CodeExpired,
		},
		{
			name: "not yet valid",
			setup: func(t *testing.T, f *fixture) Request {
				p := f.payload("cred-1")
				p.Constraints.ValidFrom = now.Add(time.Second)
				f.save(t, p)
				return Request{CredentialID: "cred-1"}
			},
			code: CodeNotYetValid,
		},
		{
			name: "signed by another key",
			setup: func(t *testing.T, f *fixture) Request {
				other, err := crypto.GenerateKeyPair()
				require.NoError(t, err)
				signed, err := Issue(f.payload("cred-1"), other.Private)
				require.NoError(t, err)
				require.NoError(t, f.store.Save(context.Background(), &Credential{Payload: signed, Status: StatusActive}))
				return Request{CredentialID: "cred-1"}
			},
			code: CodeInvalidSignature,
		},
		{
			name: "unknown issuer",
			setup: func(t *testing.T, f *fixture) Request {
				p := f.payload("cred-1")
				p.Issuer.IssuerID = "iss-ghost"
				f.save(t, p)
				return Request{CredentialID: "cred-1"}
			},
			code: CodeIssuerNotFound,
		},
		{
			name: "both id and payload",
			setup: func(t *testing.T, f *fixture) Request {
				return Request{CredentialID: "cred-1", Credential: json.RawMessage(`{}`)}
			},
			code: CodeValidation,
		},
		{
			name:  "neither id nor payload",
			setup: func(t *testing.T, f *fixture) Request { return Request{} },
			code:  CodeValidation,
		},
		{
			name: "permission check without action",
			setup: func(t *testing.T, f *fixture) Request {
				return Request{CredentialID: "cred-1", CheckPermission: &PermissionCheck{}}
			},
			code: CodeValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := tt.setup(t, f)

			res := f.verifier.Verify(context.Background(), req)
			assert.False(t, res.Valid)
			require.NotNil(t, res.Error)
			assert.Equal(t, tt.code, res.Error.Code)
			assert.Nil(t, res.Credential)
		})
	}
}

func TestVerify_RevokedMessageIncludesStatus(t *testing.T) {
	f := newFixture(t)
	f.save(t, f.payload("cred-1"))
	require.NoError(t, f.store.UpdateStatus(context.Background(), "cred-1", StatusRevoked, "", now))

	res := f.verifier.Verify(context.Background(), Request{CredentialID: "cred-1"})
	require.NotNil(t, res.Error)
	assert.Contains(t, res.Error.Message, "revoked")
}

func TestVerify_ValidityWindowBoundaries(t *testing.T) {
	f := newFixture(t)
	p := f.payload("cred-1")
	f.save(t, p)

	f.clock = p.Constraints.ValidFrom
	assert.True(t, f.verifier.Verify(context.Background(), Request{CredentialID: "cred-1"}).Valid)

	f.clock = p.Constraints.ValidUntil.Add(-time.Second)
	assert.True(t, f.verifier.Verify(context.Background(), Request{CredentialID: "cred-1"}).Valid)
}

func TestVerify_SuppliedPayload(t *testing.T) {
	f := newFixture(t)
	signed, err := Issue(f.payload("cred-ext"), f.keys.Private)
	require.NoError(t, err)
	raw, err := json.Marshal(signed)
	require.NoError(t, err)

	res := f.verifier.Verify(context.Background(), Request{Credential: raw})
	require.True(t, res.Valid, "error: %+v", res.Error)
	assert.Equal(t, "cred-ext", res.Credential.CredentialID)

	// Field order in the supplied document does not matter.
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	reordered, err := json.MarshalIndent(m, "", "  ")
	require.NoError(t, err)
	assert.True(t, f.verifier.Verify(context.Background(), Request{Credential: reordered}).Valid)

	m["agent_name"] = "Tampered"
	tampered, err := json.Marshal(m)
	require.NoError(t, err)
	res = f.verifier.Verify(context.Background(), Request{Credential: tampered})
	require.NotNil(t, res.Error)
	assert.Equal(t, CodeInvalidSignature, res.Error.Code)
}

type revokedSet map[string]bool

func (r revokedSet) IsRevoked(id string) bool { return r[id] }

func TestVerify_SuppliedPayloadRevocationList(t *testing.T) {
	f := newFixture(t)
	f.verifier.cfg.Revocations = revokedSet{"cred-ext": true}
	signed, err := Issue(f.payload("cred-ext"), f.keys.Private)
	require.NoError(t, err)
	raw, err := json.Marshal(signed)
	require.NoError(t, err)

	res := f.verifier.Verify(context.Background(), Request{Credential: raw})
	require.NotNil(t, res.Error)
	assert.Equal(t, CodeRevoked, res.Error.Code)
}

func TestVerify_InvalidSignatureIsSecurityEvent(t *testing.T) {
	f := newFixture(t)
	other, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	signed, err := Issue(f.payload("cred-1"), other.Private)
	require.NoError(t, err)
	require.NoError(t, f.store.Save(context.Background(), &Credential{Payload: signed, Status: StatusActive}))

	f.verifier.Verify(context.Background(), Request{CredentialID: "cred-1"})
	assert.Contains(t, f.logs.String(), `"security_event":true`)
	assert.Contains(t, f.logs.String(), `"level":"WARN"`)

	rec, err := f.rep.Get(context.Background(), "cred-1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.FailureCount)
}

func TestVerify_PermissionCheck(t *testing.T) {
	f := newFixture(t)
	f.save(t, f.payload("cred-1"))
	ctx := context.Background()

	res := f.verifier.Verify(ctx, Request{
		CredentialID:    "cred-1",
		CheckPermission: &PermissionCheck{Action: "read:documents"},
	})
	require.True(t, res.Valid)
	require.NotNil(t, res.PermissionCheck)
	assert.True(t, res.PermissionCheck.Granted)

	res = f.verifier.Verify(ctx, Request{
		CredentialID:    "cred-1",
		CheckPermission: &PermissionCheck{Action: "delete:documents"},
	})
	require.True(t, res.Valid)
	assert.False(t, res.PermissionCheck.Granted)
	assert.Equal(t, permission.ReasonNotPermitted, res.PermissionCheck.Reason)

	check := &PermissionCheck{Action: "transact:payment"}
	for i := 0; i < 2; i++ {
		res = f.verifier.Verify(ctx, Request{CredentialID: "cred-1", CheckPermission: check})
		require.True(t, res.PermissionCheck.Granted)
	}
	res = f.verifier.Verify(ctx, Request{CredentialID: "cred-1", CheckPermission: check})
	assert.False(t, res.PermissionCheck.Granted)
	require.NotNil(t, res.PermissionCheck.RateLimit)
	assert.Equal(t, 0, *res.PermissionCheck.RateLimit.MinuteRemaining)

	logs := f.store.Verifications()
	last := logs[len(logs)-1]
	assert.Equal(t, "transact:payment", last.Action)
	require.NotNil(t, last.Granted)
	assert.False(t, *last.Granted)
}

func TestVerify_LivePolicyPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SavePolicy(ctx, &Policy{
		ID:          "pol-1",
		Name:        "support",
		Version:     3,
		Permissions: json.RawMessage(`["communicate:email"]`),
		Rego: `package agentid.policy
import rego.v1
default decision := {"allow": true}
decision := {"allow": false, "reasons": ["region blocked"]} if input.context.region == "blocked"
`,
	}))
	c := f.save(t, f.payload("cred-1"))
	c.PolicyID = "pol-1"
	require.NoError(t, f.store.Save(ctx, c))

	res := f.verifier.Verify(ctx, Request{
		CredentialID:    "cred-1",
		CheckPermission: &PermissionCheck{Action: "read:documents"},
	})
	require.True(t, res.Valid)
	require.NotNil(t, res.PermissionPolicy)
	assert.Equal(t, 3, res.PermissionPolicy.Version)
	assert.True(t, res.LivePermissions)
	assert.False(t, res.PermissionCheck.Granted)

	res = f.verifier.Verify(ctx, Request{
		CredentialID:    "cred-1",
		CheckPermission: &PermissionCheck{Action: "communicate:email"},
	})
	assert.True(t, res.PermissionCheck.Granted)

	res = f.verifier.Verify(ctx, Request{
		CredentialID:    "cred-1",
		CheckPermission: &PermissionCheck{Action: "communicate:email", Context: permission.Context{Region: "blocked"}},
	})
	assert.False(t, res.PermissionCheck.Granted)
	assert.Equal(t, "region blocked", res.PermissionCheck.Reason)
}

func TestVerify_MissingPolicyFallsBackToEmbedded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.save(t, f.payload("cred-1"))
	c.PolicyID = "pol-gone"
	require.NoError(t, f.store.Save(ctx, c))

	res := f.verifier.Verify(ctx, Request{CredentialID: "cred-1"})
	require.True(t, res.Valid)
	assert.Nil(t, res.PermissionPolicy)
	assert.Len(t, res.Credential.Permissions, 2)
}

type failingRepo struct{ *MemoryStore }

func (failingRepo) Get(context.Context, string) (*Credential, error) {
	return nil, errors.New("connection refused")
}

func TestVerify_RepositoryFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	v, err := NewVerifier(VerifierConfig{
		Credentials: failingRepo{f.store},
		Issuers:     f.store,
		Log:         f.store,
		Logger:      slog.New(slog.NewJSONHandler(f.logs, nil)),
	})
	require.NoError(t, err)

	res := v.Verify(context.Background(), Request{CredentialID: "cred-1"})
	require.NotNil(t, res.Error)
	assert.Equal(t, CodeInternal, res.Error.Code)
	assert.Equal(t, "internal error", res.Error.Message)
	assert.NotContains(t, res.Error.Message, "connection refused")
	assert.Contains(t, f.logs.String(), "connection refused")
}

type failingIssuers struct{ *MemoryStore }

func (failingIssuers) GetIssuer(context.Context, string) (*Issuer, error) {
	return nil, errors.New("issuer store down")
}

func TestVerify_CacheSkipsIssuerLookupAndSignature(t *testing.T) {
	f := newFixture(t)
	f.save(t, f.payload("cred-1"))
	cache := NewCache(time.Minute)
	cache.now = func() time.Time { return f.clock }
	f.verifier.cfg.Cache = cache

	require.True(t, f.verifier.Verify(context.Background(), Request{CredentialID: "cred-1"}).Valid)
	assert.Equal(t, 1, cache.Len())

	f.verifier.cfg.Issuers = failingIssuers{f.store}
	assert.True(t, f.verifier.Verify(context.Background(), Request{CredentialID: "cred-1"}).Valid)

	cache.Invalidate("cred-1")
	res := f.verifier.Verify(context.Background(), Request{CredentialID: "cred-1"})
	require.NotNil(t, res.Error)
	assert.Equal(t, CodeInternal, res.Error.Code)
}

func TestVerify_CachedCredentialSeesRepositoryRevocation(t *testing.T) {
	f := newFixture(t)
	f.save(t, f.payload("cred-1"))
	cache := NewCache(time.Minute)
	cache.now = func() time.Time { return f.clock }
	f.verifier.cfg.Cache = cache

	require.True(t, f.verifier.Verify(context.Background(), Request{CredentialID: "cred-1"}).Valid)
	require.NoError(t, f.store.UpdateStatus(context.Background(), "cred-1", StatusRevoked, "compromised", now))

	res := f.verifier.Verify(context.Background(), Request{CredentialID: "cred-1"})
	assert.False(t, res.Valid)
	assert.Equal(t, CodeRevoked, res.Code())
}

func TestVerify_CachedDigestRejectsTamperedPayload(t *testing.T) {
	f := newFixture(t)
	c := f.save(t, f.payload("cred-1"))
	cache := NewCache(time.Minute)
	cache.now = func() time.Time { return f.clock }
	f.verifier.cfg.Cache = cache

	require.True(t, f.verifier.Verify(context.Background(), Request{CredentialID: "cred-1"}).Valid)

	c.AgentName = "Someone Else"
	require.NoError(t, f.store.Save(context.Background(), c))
	res := f.verifier.Verify(context.Background(), Request{CredentialID: "cred-1"})
	assert.Equal(t, CodeInvalidSignature, res.Code())
}

func TestVerify_ForgedPayloadDoesNotTouchReputation(t *testing.T) {
	f := newFixture(t)
	f.save(t, f.payload("victim"))
	require.True(t, f.verifier.Verify(context.Background(), Request{CredentialID: "victim"}).Valid)
	before, err := f.rep.Get(context.Background(), "victim")
	require.NoError(t, err)

	attacker, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	forged, err := Issue(f.payload("victim"), attacker.Private)
	require.NoError(t, err)
	raw, err := json.Marshal(forged)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		res := f.verifier.Verify(context.Background(), Request{Credential: raw})
		require.Equal(t, CodeInvalidSignature, res.Code())
	}
	after, err := f.rep.Get(context.Background(), "victim")
	require.NoError(t, err)
	assert.Equal(t, before.TrustScore, after.TrustScore)
	assert.Equal(t, before.FailureCount, after.FailureCount)

	unknown := f.payload("never-issued")
	unknown.Issuer.IssuerID = "iss-nobody"
	forged, err = Issue(unknown, attacker.Private)
	require.NoError(t, err)
	raw, err = json.Marshal(forged)
	require.NoError(t, err)
	assert.Equal(t, CodeIssuerNotFound, f.verifier.Verify(context.Background(), Request{Credential: raw}).Code())
	_, err = f.rep.Get(context.Background(), "never-issued")
	assert.ErrorIs(t, err, reputation.ErrNotFound)
}

func TestNewVerifier_RequiresRepositories(t *testing.T) {
	_, err := NewVerifier(VerifierConfig{})
	assert.Error(t, err)
	_, err = NewVerifier(VerifierConfig{Credentials: NewMemoryStore()})
	assert.Error(t, err)
}
