// Package a2a implements agent-to-agent authorization: a requester asks a
// grantor for scoped, time-bounded permissions with a signed request, the
// grantor approves or denies with a signed response, and approved
// authorizations are later checked, revoked or left to lapse.
package a2a

import (
	"context"
	"encoding/json"
	"time"
)

// Status is the lifecycle state of an authorization.
type Status string

// Authorization statuses.
const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusRevoked  Status = "revoked"
	StatusExpired  Status = "expired"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusDenied, StatusRevoked, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusDenied || s == StatusRevoked || s == StatusExpired
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusApproved || to == StatusDenied || to == StatusExpired
	case StatusApproved:
		return to == StatusRevoked
	}
	return false
}

// Authorization is a delegation request and its outcome. RequestedPermissions
// and Constraints are kept exactly as the requester signed them.
type Authorization struct {
	ID                    string          `json:"id"`
	RequesterCredentialID string          `json:"requester_credential_id"`
	GrantorCredentialID   string          `json:"grantor_credential_id"`
	RequestedPermissions  json.RawMessage `json:"requested_permissions"`
	Scope                 string          `json:"scope,omitempty"`
	Constraints           json.RawMessage `json:"constraints,omitempty"`
	ValidFrom             time.Time       `json:"valid_from"`
	ValidUntil            time.Time       `json:"valid_until"`
	Status                Status          `json:"status"`
	RequesterSignature    string          `json:"requester_signature"`
	GrantorSignature      string          `json:"grantor_signature,omitempty"`
	ResponseMessage       string          `json:"response_message,omitempty"`
	RevokeReason          string          `json:"revoke_reason,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	RespondedAt           *time.Time      `json:"responded_at,omitempty"`
	RevokedAt             *time.Time      `json:"revoked_at,omitempty"`
}

// Clone returns a deep copy.
func (a *Authorization) Clone() *Authorization {
	cp := *a
	cp.RequestedPermissions = append(json.RawMessage(nil), a.RequestedPermissions...)
	if a.Constraints != nil {
		cp.Constraints = append(json.RawMessage(nil), a.Constraints...)
	}
	if a.RespondedAt != nil {
		t := *a.RespondedAt
		cp.RespondedAt = &t
	}
	if a.RevokedAt != nil {
		t := *a.RevokedAt
		cp.RevokedAt = &t
	}
	return &cp
}

// Patch carries the fields set alongside a status transition. Zero fields
// are left unchanged.
type Patch struct {
	GrantorSignature string
	ResponseMessage  string
	RespondedAt      *time.Time
	RevokedAt        *time.Time
	RevokeReason     string
}

func (p Patch) apply(a *Authorization) {
	if p.GrantorSignature != "" {
		a.GrantorSignature = p.GrantorSignature
	}
	if p.ResponseMessage != "" {
		a.ResponseMessage = p.ResponseMessage
	}
	if p.RespondedAt != nil {
		t := *p.RespondedAt
		a.RespondedAt = &t
	}
	if p.RevokedAt != nil {
		t := *p.RevokedAt
		a.RevokedAt = &t
	}
	if p.RevokeReason != "" {
		a.RevokeReason = p.RevokeReason
	}
}

// Role selects which side of an authorization a credential filter matches.
type Role string

// Roles. RoleAny matches either side.
const (
	RoleAny       Role = ""
	RoleRequester Role = "requester"
	RoleGrantor   Role = "grantor"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAny, RoleRequester, RoleGrantor:
		return true
	}
	return false
}

// ListFilter narrows List. CredentialID matches the side named by Role.
// Results are newest first; Offset skips that many before Limit applies.
type ListFilter struct {
	CredentialID string
	Role         Role
	Status       Status
	Limit        int
	Offset       int
}

// matches reports whether a passes the credential and status criteria.
func (f ListFilter) matches(a *Authorization) bool {
	if f.CredentialID != "" {
		req := a.RequesterCredentialID == f.CredentialID
		gra := a.GrantorCredentialID == f.CredentialID
		switch f.Role {
		case RoleRequester:
			if !req {
				return false
			}
		case RoleGrantor:
			if !gra {
				return false
			}
		default:
			if !req && !gra {
				return false
			}
		}
	}
	return f.Status == "" || a.Status == f.Status
}

// Store persists authorizations. Transition is a compare-and-set on status
// and fails with ErrStatusConflict when the stored status is not from.
// ExpirePending flips every overdue pending authorization to expired and
// returns exactly the ids it flipped.
type Store interface {
	Insert(ctx context.Context, a *Authorization) error
	Get(ctx context.Context, id string) (*Authorization, error)
	List(ctx context.Context, f ListFilter) ([]*Authorization, error)
	Transition(ctx context.Context, id string, from, to Status, p Patch) (*Authorization, error)
	ExpirePending(ctx context.Context, now time.Time) ([]string, error)
	FindActive(ctx context.Context, requesterID, grantorID string, now time.Time) ([]*Authorization, error)
}
