package reqsign

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestSigner(t *testing.T, now *time.Time) *Signer {
	t.Helper()
	s, err := New(Config{Issuer: "gateway", Secret: testSecret, Now: func() time.Time { return *now }})
	require.NoError(t, err)
	return s
}

func TestNew_RejectsShortSecret(t *testing.T) {
	_, err := New(Config{Secret: []byte("short")})
	assert.ErrorIs(t, err, ErrWeakSecret)
}

func TestSigner_SignAndVerify(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	s := newTestSigner(t, &now)
	body := []byte(`{"op":"read"}`)

	t.Run("valid", func(t *testing.T) {
		token, err := s.Sign(Claims{CredentialID: "cred-1", AgentID: "agent-1"}, body)
		require.NoError(t, err)

		claims, err := s.Verify(token, body)
		require.NoError(t, err)
		assert.Equal(t, "cred-1", claims.CredentialID)
		assert.Equal(t, "gateway", claims.Issuer)
		assert.NotEmpty(t, claims.ID)
	})

	t.Run("tampered body", func(t *testing.T) {
		token, err := s.Sign(Claims{CredentialID: "cred-1"}, body)
		require.NoError(t, err)
		_, err = s.Verify(token, []byte(`{"op":"write"}`))
		assert.ErrorIs(t, err, ErrIntegrityFailed)
	})

	t.Run("hash present but no body", func(t *testing.T) {
		token, err := s.Sign(Claims{CredentialID: "cred-1"}, body)
		require.NoError(t, err)
		_, err = s.Verify(token, nil)
		assert.ErrorIs(t, err, ErrIntegrityFailed)
	})

	t.Run("no body", func(t *testing.T) {
		token, err := s.Sign(Claims{CredentialID: "cred-1"}, nil)
		require.NoError(t, err)
		claims, err := s.Verify(token, nil)
		require.NoError(t, err)
		assert.Empty(t, claims.BodyHash)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := New(Config{Secret: []byte("ffffffffffffffffffffffffffffffff"), Now: s.cfg.Now})
		require.NoError(t, err)
		token, err := other.Sign(Claims{CredentialID: "cred-1"}, nil)
		require.NoError(t, err)
		_, err = s.Verify(token, nil)
		assert.ErrorIs(t, err, ErrSignature)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := s.Verify("not-a-token", nil)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestSigner_MaxAge(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	s := newTestSigner(t, &now)

	token, err := s.Sign(Claims{CredentialID: "cred-1"}, nil)
	require.NoError(t, err)

	now = now.Add(DefaultMaxAge)
	_, err = s.Verify(token, nil)
	require.NoError(t, err, "within max age plus skew")

	now = now.Add(DefaultClockSkew + time.Second)
	_, err = s.Verify(token, nil)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestSigner_RejectsFutureIssuedAt(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	s := newTestSigner(t, &now)

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: testSecret}, nil)
	require.NoError(t, err)
	b, err := json.Marshal(Claims{CredentialID: "cred-1", IssuedAt: now.Add(time.Minute).Unix(), Expiry: now.Add(2 * time.Minute).Unix()})
	require.NoError(t, err)
	obj, err := signer.Sign(b)
	require.NoError(t, err)
	token, err := obj.CompactSerialize()
	require.NoError(t, err)

	_, err = s.Verify(token, nil)
	assert.ErrorIs(t, err, ErrFuture)
}

func TestMiddleware(t *testing.T) {
	now := time.Now()
	s := newTestSigner(t, &now)

	var seenBody, seenCred string
	h := Middleware(s)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seenBody = string(b)
		seenCred = r.Header.Get(HeaderCredential)
		claims, ok := ClaimsFromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, "agent-1", claims.AgentID)
		w.WriteHeader(http.StatusOK)
	}))

	body := `{"q":1}`
	token, err := s.Sign(Claims{CredentialID: "cred-1", AgentID: "agent-1"}, []byte(body))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(HeaderAssertion, token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, body, seenBody)
	assert.Equal(t, "cred-1", seenCred)
	assert.Contains(t, rec.Header().Get("Server-Timing"), "agentid-assert")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"q":2}`))
	req.Header.Set(HeaderAssertion, token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
