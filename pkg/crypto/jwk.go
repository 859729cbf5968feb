package crypto

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// PublicKeyToJWK wraps an Ed25519 public key in a JWK with the given kid.
func PublicKeyToJWK(pub ed25519.PublicKey, kid string) jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       pub,
		KeyID:     kid,
		Algorithm: string(jose.EdDSA),
		Use:       "sig",
	}
}

// PrivateKeyToJWK wraps an Ed25519 private key in a JWK with the given kid.
func PrivateKeyToJWK(priv ed25519.PrivateKey, kid string) jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       priv,
		KeyID:     kid,
		Algorithm: string(jose.EdDSA),
		Use:       "sig",
	}
}

// JWKToPublicKey extracts the Ed25519 public key from a JWK. Private JWKs are
// accepted and reduced to their public half.
func JWKToPublicKey(jwk jose.JSONWebKey) (ed25519.PublicKey, error) {
	switch k := jwk.Key.(type) {
	case ed25519.PublicKey:
		return k, nil
	case ed25519.PrivateKey:
		return k.Public().(ed25519.PublicKey), nil
	default:
		return nil, fmt.Errorf("unsupported key type %T: only Ed25519 (OKP) keys are accepted", jwk.Key)
	}
}

// ParsePrivateJWK decodes a JSON private JWK into an Ed25519 key.
func ParsePrivateJWK(data []byte) (ed25519.PrivateKey, string, error) {
	var jwk jose.JSONWebKey
	if err := json.Unmarshal(data, &jwk); err != nil {
		return nil, "", fmt.Errorf("failed to parse JWK: %w", err)
	}
	priv, ok := jwk.Key.(ed25519.PrivateKey)
	if !ok {
		return nil, "", fmt.Errorf("JWK is not an Ed25519 private key (got %T)", jwk.Key)
	}
	return priv, jwk.KeyID, nil
}

// ParsePublicJWK decodes a JSON JWK into an Ed25519 public key.
func ParsePublicJWK(data []byte) (ed25519.PublicKey, string, error) {
	var jwk jose.JSONWebKey
	if err := json.Unmarshal(data, &jwk); err != nil {
		return nil, "", fmt.Errorf("failed to parse JWK: %w", err)
	}
	pub, err := JWKToPublicKey(jwk)
	if err != nil {
		return nil, "", err
	}
	return pub, jwk.KeyID, nil
}
