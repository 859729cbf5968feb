// Package reqsign signs and verifies the short-lived assertions the gateway
// attaches to requests it forwards upstream. Assertions are compact HS256
// JWS tokens bound to the request body.
package reqsign

import (
	"errors"
	"time"
)

// Header names.
const (
	HeaderAssertion  = "X-AgentID-Assertion"
	HeaderCredential = "X-AgentID-Credential"
	HeaderAgent      = "X-AgentID-Agent"
)

// Defaults.
const (
	// DefaultMaxAge is how long an assertion stays valid after signing.
	DefaultMaxAge = 60 * time.Second

	// DefaultClockSkew is the allowed drift between signer and verifier.
	DefaultClockSkew = 5 * time.Second

	// DefaultMaxBodySize caps the body the middleware will buffer (10MB).
	DefaultMaxBodySize = 10 << 20

	minSecretLen = 32
)

// Claims is the assertion body.
type Claims struct {
	CredentialID string `json:"sub"`
	AgentID      string `json:"agent_id,omitempty"`
	Issuer       string `json:"iss"`
	IssuedAt     int64  `json:"iat"`
	Expiry       int64  `json:"exp"`
	BodyHash     string `json:"bh,omitempty"`
	ID           string `json:"jti,omitempty"`
}

// Config configures a Signer.
type Config struct {
	// Issuer names the signing party, usually the gateway.
	Issuer string
	// Secret is the shared HMAC key, at least 32 bytes.
	Secret []byte

	MaxAge      time.Duration
	ClockSkew   time.Duration
	MaxBodySize int64

	Now func() time.Time
}

var (
	ErrMissingHeader   = errors.New("missing " + HeaderAssertion + " header")
	ErrInvalidToken    = errors.New("invalid assertion format")
	ErrExpired         = errors.New("assertion expired")
	ErrFuture          = errors.New("assertion issued in the future")
	ErrIntegrityFailed = errors.New("integrity check failed (body hash mismatch)")
	ErrSignature       = errors.New("assertion signature verification failed")
	ErrWeakSecret      = errors.New("secret must be at least 32 bytes")
)
