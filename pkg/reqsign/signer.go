package reqsign

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
)

// Signer issues and checks assertions with a shared secret.
type Signer struct {
	cfg    Config
	signer jose.Signer
}

// New creates a Signer.
func New(cfg Config) (*Signer, error) {
	if len(cfg.Secret) < minSecretLen {
		return nil, ErrWeakSecret
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = DefaultClockSkew
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	opts := &jose.SignerOptions{}
	opts.WithType("JWT")
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: cfg.Secret}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}
	return &Signer{cfg: cfg, signer: signer}, nil
}

// Sign returns a compact assertion for claims bound to body. Timestamps,
// issuer and id are always set by the signer.
func (s *Signer) Sign(claims Claims, body []byte) (string, error) {
	now := s.cfg.Now()
	claims.IssuedAt = now.Unix()
	claims.Expiry = now.Add(s.cfg.MaxAge).Unix()
	claims.Issuer = s.cfg.Issuer
	claims.ID = uuid.NewString()
	claims.BodyHash = ""
	if len(body) > 0 {
		claims.BodyHash = bodyHash(body)
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to marshal claims: %w", err)
	}
	obj, err := s.signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("failed to sign assertion: %w", err)
	}
	return obj.CompactSerialize()
}

// Verify checks an assertion against body and returns its claims.
func (s *Signer) Verify(token string, body []byte) (*Claims, error) {
	obj, err := jose.ParseSigned(token, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	payload, err := obj.Verify(s.cfg.Secret)
	if err != nil {
		return nil, ErrSignature
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	now := s.cfg.Now().Unix()
	skew := int64(s.cfg.ClockSkew.Seconds())
	if claims.IssuedAt > now+skew {
		return nil, ErrFuture
	}
	if claims.Expiry+skew < now || now-claims.IssuedAt > int64(s.cfg.MaxAge.Seconds())+skew {
		return nil, ErrExpired
	}

	switch {
	case len(body) > 0 && claims.BodyHash == "":
		return nil, fmt.Errorf("%w: missing bh claim for body", ErrIntegrityFailed)
	case len(body) > 0 && claims.BodyHash != bodyHash(body):
		return nil, ErrIntegrityFailed
	case len(body) == 0 && claims.BodyHash != "":
		return nil, fmt.Errorf("%w: bh claim present for empty body", ErrIntegrityFailed)
	}
	return &claims, nil
}

func bodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
