package trust_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentid-dev/agentid-core/pkg/credential"
	"github.com/agentid-dev/agentid-core/pkg/crypto"
	"github.com/agentid-dev/agentid-core/pkg/trust"
)

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	store, err := trust.NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	issuer := &credential.Issuer{ID: "did:web:acme.example", Name: "Acme", PublicKey: kp.PublicKeyBase64()}

	t.Run("Unknown issuer", func(t *testing.T) {
		_, err := store.GetIssuer(ctx, "nobody")
		assert.ErrorIs(t, err, credential.ErrIssuerNotFound)
	})

	t.Run("Save and Get", func(t *testing.T) {
		require.NoError(t, store.SaveIssuer(ctx, issuer))

		_, err := os.Stat(filepath.Join(dir, "did_web_acme.example.jwk"))
		require.NoError(t, err)

		got, err := store.GetIssuer(ctx, issuer.ID)
		require.NoError(t, err)
		assert.Equal(t, issuer, got)
	})

	t.Run("Update verified flag", func(t *testing.T) {
		issuer.Verified = true
		require.NoError(t, store.SaveIssuer(ctx, issuer))
		got, err := store.GetIssuer(ctx, issuer.ID)
		require.NoError(t, err)
		assert.True(t, got.Verified)
	})

	t.Run("Reopen", func(t *testing.T) {
		reopened, err := trust.NewFileStore(dir)
		require.NoError(t, err)
		list, err := reopened.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, issuer.PublicKey, list[0].PublicKey)
	})

	t.Run("Remove", func(t *testing.T) {
		require.NoError(t, store.Remove(issuer.ID))
		_, err := store.GetIssuer(ctx, issuer.ID)
		assert.ErrorIs(t, err, credential.ErrIssuerNotFound)
		assert.ErrorIs(t, store.Remove(issuer.ID), credential.ErrIssuerNotFound)
	})
}

func TestFileStore_RejectsBadKey(t *testing.T) {
	store, err := trust.NewFileStore(t.TempDir())
	require.NoError(t, err)

	err = store.SaveIssuer(context.Background(), &credential.Issuer{ID: "iss", PublicKey: "not-a-key"})
	assert.ErrorIs(t, err, trust.ErrInvalidKey)
}

func TestFileStore_AddFromJWKS(t *testing.T) {
	store, err := trust.NewFileStore(t.TempDir())
	require.NoError(t, err)
	kp1, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	kp2, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	set := &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
		crypto.PublicKeyToJWK(kp1.Public, "k1"),
		crypto.PublicKeyToJWK(kp2.Public, "k2"),
	}}
	require.NoError(t, store.AddFromJWKS(context.Background(), set, "iss-1", "Issuer One", "k2"))

	got, err := store.GetIssuer(context.Background(), "iss-1")
	require.NoError(t, err)
	assert.Equal(t, kp2.PublicKeyBase64(), got.PublicKey)
	assert.Equal(t, "Issuer One", got.Name)

	err = store.AddFromJWKS(context.Background(), set, "iss-2", "", "k9")
	assert.ErrorIs(t, err, crypto.ErrKeyNotInSet)
}

func TestDefaultTrustDir(t *testing.T) {
	t.Setenv("AGENTID_TRUST_PATH", "/custom/trust")
	assert.Equal(t, "/custom/trust", trust.DefaultTrustDir())
}
