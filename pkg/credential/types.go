// Package credential verifies, issues and manages signed AgentID credentials.
package credential

import (
	"context"
	"encoding/json"
	"time"
)

// Status is the server-side lifecycle state of a credential.
type Status string

// Credential statuses.
const (
	StatusActive    Status = "active"
	StatusRevoked   Status = "revoked"
	StatusExpired   Status = "expired"
	StatusSuspended Status = "suspended"
)

// IssuerInfo is the issuer summary embedded in a signed payload.
type IssuerInfo struct {
	IssuerID   string `json:"issuer_id"`
	Name       string `json:"name"`
	IssuerType string `json:"issuer_type,omitempty"`
	Domain     string `json:"domain,omitempty"`
	IsVerified bool   `json:"is_verified"`
}

// Constraints bound a credential's validity. The window is [ValidFrom, ValidUntil).
type Constraints struct {
	ValidFrom      time.Time `json:"valid_from"`
	ValidUntil     time.Time `json:"valid_until"`
	AllowedDomains []string  `json:"allowed_domains,omitempty"`
	RateLimit      *int      `json:"rate_limit,omitempty"`
}

// Payload is the signed credential document. Its canonical form, minus
// Signature, is what the issuer signs.
type Payload struct {
	CredentialID string          `json:"credential_id"`
	AgentID      string          `json:"agent_id"`
	AgentName    string          `json:"agent_name"`
	AgentType    string          `json:"agent_type,omitempty"`
	Issuer       IssuerInfo      `json:"issuer"`
	Permissions  json.RawMessage `json:"permissions,omitempty"`
	Constraints  Constraints     `json:"constraints"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	Signature    string          `json:"signature"`
}

// Credential is a stored credential: the signed payload plus unsigned state.
type Credential struct {
	Payload

	Status           Status     `json:"status"`
	OwnerID          string     `json:"owner_id,omitempty"`
	PolicyID         string     `json:"policy_id,omitempty"`
	IssuedAt         time.Time  `json:"issued_at"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	RevocationReason string     `json:"revocation_reason,omitempty"`
}

// ID returns the credential id.
func (c *Credential) ID() string {
	return c.CredentialID
}

// IsActiveAt reports whether the credential is usable for permission purposes at t.
func (c *Credential) IsActiveAt(t time.Time) bool {
	return c.Status == StatusActive &&
		!t.Before(c.Constraints.ValidFrom) &&
		t.Before(c.Constraints.ValidUntil)
}

// Issuer is a signing authority. PublicKey is a base64 Ed25519 key.
type Issuer struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	PublicKey string `json:"public_key"`
	Verified  bool   `json:"verified"`
}

// Policy is a reusable permission set a credential can reference instead of
// its embedded permissions. Rego, when set, may further deny requests.
type Policy struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Version     int             `json:"version"`
	Permissions json.RawMessage `json:"permissions"`
	Rego        string          `json:"rego,omitempty"`
}

// PolicyInfo identifies the policy whose live permissions were used.
type PolicyInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version int    `json:"version"`
}

// Repository stores credentials. Get returns ErrNotFound for unknown ids.
type Repository interface {
	Get(ctx context.Context, id string) (*Credential, error)
	Save(ctx context.Context, c *Credential) error
	UpdateStatus(ctx context.Context, id string, status Status, reason string, at time.Time) error
}

// IssuerRepository stores issuers. GetIssuer returns ErrIssuerNotFound for
// unknown ids.
type IssuerRepository interface {
	GetIssuer(ctx context.Context, id string) (*Issuer, error)
	SaveIssuer(ctx context.Context, issuer *Issuer) error
}

// PolicyRepository resolves permission policies. GetPolicy returns
// ErrPolicyNotFound for unknown ids.
type PolicyRepository interface {
	GetPolicy(ctx context.Context, id string) (*Policy, error)
}

// LogEntry records one verification call.
type LogEntry struct {
	ID           string    `json:"id"`
	CredentialID string    `json:"credential_id,omitempty"`
	Valid        bool      `json:"valid"`
	Code         string    `json:"code,omitempty"`
	Action       string    `json:"action,omitempty"`
	Granted      *bool     `json:"granted,omitempty"`
	DurationMs   float64   `json:"duration_ms"`
	Timestamp    time.Time `json:"timestamp"`
}

// VerificationLog persists verification log entries.
type VerificationLog interface {
	RecordVerification(ctx context.Context, entry LogEntry) error
}

// RevocationList reports credentials revoked out of band. It is consulted for
// credentials supplied as full payloads.
type RevocationList interface {
	IsRevoked(credentialID string) bool
}

// RevocationRecorder is a RevocationList that can record new revocations.
type RevocationRecorder interface {
	RevocationList
	Add(credentialID string, revokedAt time.Time, reason string) error
}
