package crypto

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerify_RoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	msg := []byte(`{"id":"cred-1"}`)
	sig := Sign(kp.Private, msg)

	assert.NoError(t, VerifySignature(kp.PublicKeyBase64(), msg, sig))
}

func TestVerifySignature_FlippedByte(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	msg := []byte(`{"id":"cred-1"}`)
	raw, _ := base64.StdEncoding.DecodeString(Sign(kp.Private, msg))
	raw[0] ^= 0x01

	err = VerifySignature(kp.PublicKeyBase64(), msg, base64.StdEncoding.EncodeToString(raw))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifySignature_WrongKey(t *testing.T) {
	signer, err := GenerateKeyPair()
	require.NoError(t, err)
	other, err := GenerateKeyPair()
	require.NoError(t, err)

	msg := []byte("payload")
	err = VerifySignature(other.PublicKeyBase64(), msg, Sign(signer.Private, msg))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifySignature_MalformedInputs(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	msg := []byte("payload")
	sig := Sign(kp.Private, msg)

	tests := []struct {
		name string
		key  string
		sig  string
	}{
		{"key not base64", "!!!", sig},
		{"key wrong length", base64.StdEncoding.EncodeToString([]byte("short")), sig},
		{"sig not base64", kp.PublicKeyBase64(), "%%%"},
		{"sig wrong length", kp.PublicKeyBase64(), base64.StdEncoding.EncodeToString([]byte("short"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, VerifySignature(tt.key, msg, tt.sig), ErrInvalidSignature)
		})
	}
}

func TestSignPayload_VerifiesAgainstCanonicalBytes(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	payload := map[string]any{"b": 2, "a": 1}
	sig, err := SignPayload(kp.Private, payload)
	require.NoError(t, err)

	// Same content with a signature attached and keys in another order.
	canonical, err := CanonicalPayloadJSON([]byte(`{"signature":"x","a":1,"b":2}`))
	require.NoError(t, err)
	assert.NoError(t, VerifySignature(kp.PublicKeyBase64(), canonical, sig))
}

func TestJWKRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	privJSON, err := json.Marshal(PrivateKeyToJWK(kp.Private, "issuer-key-1"))
	require.NoError(t, err)
	priv, kid, err := ParsePrivateJWK(privJSON)
	require.NoError(t, err)
	assert.Equal(t, "issuer-key-1", kid)
	assert.Equal(t, kp.Private, priv)

	pubJSON, err := json.Marshal(PublicKeyToJWK(kp.Public, "issuer-key-1"))
	require.NoError(t, err)
	pub, _, err := ParsePublicJWK(pubJSON)
	require.NoError(t, err)
	assert.Equal(t, kp.Public, pub)

	_, _, err = ParsePrivateJWK(pubJSON)
	assert.Error(t, err)
}
