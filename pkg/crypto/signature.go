package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrInvalidSignature is returned for every decoding or verification failure.
// Callers must not be able to distinguish a malformed key from a bad signature.
var ErrInvalidSignature = errors.New("invalid signature")

// KeyPair is an Ed25519 issuer or agent key pair.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair creates a fresh Ed25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// PublicKeyBase64 returns the standard base64 encoding of the public key, the
// form issuers register.
func (k *KeyPair) PublicKeyBase64() string {
	return EncodePublicKey(k.Public)
}

// EncodePublicKey base64-encodes an Ed25519 public key.
func EncodePublicKey(pub ed25519.PublicKey) string {
	return base64.StdEncoding.EncodeToString(pub)
}

// DecodePublicKey parses a base64 Ed25519 public key.
func DecodePublicKey(b64 string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("invalid public key encoding: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key length %d", len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// Sign signs msg and returns the base64 signature.
func Sign(priv ed25519.PrivateKey, msg []byte) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, msg))
}

// SignPayload canonicalizes v (minus its signature field) and signs it.
func SignPayload(priv ed25519.PrivateKey, v any) (string, error) {
	msg, err := CanonicalPayload(v)
	if err != nil {
		return "", err
	}
	return Sign(priv, msg), nil
}

// VerifySignature checks a base64 signature over msg against a base64 public
// key. Any failure is reported as ErrInvalidSignature.
func VerifySignature(publicKeyB64 string, msg []byte, signatureB64 string) error {
	pub, err := DecodePublicKey(publicKeyB64)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("%w: signature encoding: %v", ErrInvalidSignature, err)
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: signature length %d", ErrInvalidSignature, len(sig))
	}
	if !ed25519.Verify(pub, msg, sig) {
		return ErrInvalidSignature
	}
	return nil
}
