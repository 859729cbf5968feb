package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentid-dev/agentid-core/pkg/credential"
	"github.com/agentid-dev/agentid-core/pkg/crypto"
	"github.com/agentid-dev/agentid-core/pkg/metrics"
	"github.com/agentid-dev/agentid-core/pkg/notify"
	"github.com/agentid-dev/agentid-core/pkg/permission"
	"github.com/agentid-dev/agentid-core/pkg/tasks"
)

// DefaultValidity applies when a create request omits valid_until.
const DefaultValidity = 7 * 24 * time.Hour

// ReasonNoAuthorization is the check result when no approved authorization
// between the two credentials covers the action.
const ReasonNoAuthorization = "no active authorization grants this action"

// CreateRequest is a requester's signed delegation request. Every signed
// field is kept as the JSON the requester sent, so the signature covers the
// caller's own encoding of scope and valid_until.
type CreateRequest struct {
	RequesterCredentialID string          `json:"requester_credential_id"`
	GrantorCredentialID   string          `json:"grantor_credential_id"`
	RequestedPermissions  json.RawMessage `json:"requested_permissions"`
	Scope                 json.RawMessage `json:"scope,omitempty"`
	Constraints           json.RawMessage `json:"constraints,omitempty"`
	ValidUntil            json.RawMessage `json:"valid_until,omitempty"`
	Signature             string          `json:"signature"`
}

// SetScope sets the scope as a JSON string.
func (r *CreateRequest) SetScope(scope string) {
	r.Scope, _ = json.Marshal(scope)
}

// SetValidUntil sets valid_until as an RFC 3339 timestamp.
func (r *CreateRequest) SetValidUntil(t time.Time) {
	r.ValidUntil, _ = json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// ScopeText decodes the scope. Absent or null is "".
func (r CreateRequest) ScopeText() (string, error) {
	if isNull(r.Scope) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(r.Scope, &s); err != nil {
		return "", fmt.Errorf("scope must be a string: %w", err)
	}
	return s, nil
}

// ValidUntilTime decodes valid_until. Absent or null is nil.
func (r CreateRequest) ValidUntilTime() (*time.Time, error) {
	if isNull(r.ValidUntil) {
		return nil, nil
	}
	var t time.Time
	if err := json.Unmarshal(r.ValidUntil, &t); err != nil {
		return nil, fmt.Errorf("valid_until must be an RFC 3339 timestamp: %w", err)
	}
	return &t, nil
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || string(raw) == "null"
}

// RespondRequest is a grantor's signed decision.
type RespondRequest struct {
	GrantorCredentialID string `json:"grantor_credential_id"`
	Approved            bool   `json:"approved"`
	Message             string `json:"message,omitempty"`
	Signature           string `json:"signature"`
}

// CheckRequest asks whether requester may perform action on behalf of grantor.
type CheckRequest struct {
	RequesterCredentialID string             `json:"requester_credential_id"`
	GrantorCredentialID   string             `json:"grantor_credential_id"`
	Action                string             `json:"action"`
	Resource              string             `json:"resource,omitempty"`
	Context               permission.Context `json:"context,omitempty"`
}

// CheckResult is the answer to a CheckRequest.
type CheckResult struct {
	Authorized         bool     `json:"authorized"`
	AuthorizationID    string   `json:"authorization_id,omitempty"`
	Reason             string   `json:"reason,omitempty"`
	ConditionsApplied  []string `json:"conditions_applied,omitempty"`
	RateLimitRemaining *int     `json:"rate_limit_remaining,omitempty"`
}

// Config wires a Service. Store, Credentials and Issuers are required.
type Config struct {
	Store       Store
	Credentials credential.Repository
	Issuers     credential.IssuerRepository

	// Evaluator enforces authorization constraints. Defaults to an
	// in-memory evaluator.
	Evaluator *permission.Evaluator

	Notifier notify.Sink
	Tasks    tasks.Runner
	Logger   *slog.Logger
	Now      func() time.Time

	// DefaultValidity overrides DefaultValidity.
	DefaultValidity time.Duration

	// Conversations stores conversations and messages. Defaults to Store
	// when it implements ConversationStore, else to an in-memory store.
	Conversations ConversationStore

	// MessageWindow bounds how far signature_timestamp may be from now.
	// Defaults to DefaultMessageWindow.
	MessageWindow time.Duration

	// MaxMessageBytes caps message content. Defaults to DefaultMaxMessageBytes.
	MaxMessageBytes int
}

// Service runs the authorization protocol.
type Service struct {
	cfg Config
}

// NewService validates cfg and fills defaults.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil || cfg.Credentials == nil || cfg.Issuers == nil {
		return nil, errors.New("a2a: store, credential and issuer repositories are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Evaluator == nil {
		cfg.Evaluator = permission.NewEvaluator(nil)
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Nop{}
	}
	if cfg.Tasks == nil {
		cfg.Tasks = tasks.Inline{Logger: cfg.Logger}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.DefaultValidity <= 0 {
		cfg.DefaultValidity = DefaultValidity
	}
	if cfg.Conversations == nil {
		if cs, ok := cfg.Store.(ConversationStore); ok {
			cfg.Conversations = cs
		} else {
			cfg.Conversations = NewMemoryStore()
		}
	}
	if cfg.MessageWindow <= 0 {
		cfg.MessageWindow = DefaultMessageWindow
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = DefaultMaxMessageBytes
	}
	return &Service{cfg: cfg}, nil
}

// Create records a pending authorization. owner must own the requester
// credential, the grantor credential must be active, and the signature must
// verify over CreatePayload with the requester issuer's key.
func (s *Service) Create(ctx context.Context, owner string, req CreateRequest) (*Authorization, error) {
	now := s.cfg.Now().UTC()
	scope, until, err := validateCreate(req, now)
	if err != nil {
		return nil, err
	}

	requester, err := s.credential(ctx, req.RequesterCredentialID, "requester")
	if err != nil {
		return nil, err
	}
	if !owns(owner, requester) {
		return nil, newError(KindForbidden, "caller does not own the requester credential")
	}
	grantor, err := s.credential(ctx, req.GrantorCredentialID, "grantor")
	if err != nil {
		return nil, err
	}
	if !grantor.IsActiveAt(now) {
		return nil, newError(KindValidation, "grantor credential is not active")
	}

	msg, err := CreatePayload(req)
	if err != nil {
		return nil, wrapError(KindValidation, "request cannot be canonicalized", err)
	}
	if err := s.verifySignature(ctx, requester, msg, req.Signature, "create"); err != nil {
		return nil, err
	}

	validUntil := now.Add(s.cfg.DefaultValidity)
	if until != nil {
		validUntil = until.UTC()
	}
	a := &Authorization{
		ID:                    "a2a_" + uuid.NewString(),
		RequesterCredentialID: req.RequesterCredentialID,
		GrantorCredentialID:   req.GrantorCredentialID,
		RequestedPermissions:  req.RequestedPermissions,
		Scope:                 scope,
		Constraints:           req.Constraints,
		ValidFrom:             now,
		ValidUntil:            validUntil,
		Status:                StatusPending,
		RequesterSignature:    req.Signature,
		CreatedAt:             now,
	}
	if err := s.cfg.Store.Insert(ctx, a); err != nil {
		return nil, s.internal("insert authorization", err)
	}

	s.transitioned(a, notify.EventAuthorizationCreated)
	return a, nil
}

// Respond approves or denies a pending authorization. A second response,
// including one racing this call, fails with a state conflict.
func (s *Service) Respond(ctx context.Context, owner, id string, req RespondRequest) (*Authorization, error) {
	if id == "" || req.GrantorCredentialID == "" || req.Signature == "" {
		return nil, newError(KindValidation, "request id, grantor_credential_id and signature are required")
	}
	a, grantor, err := s.grantorAction(ctx, owner, id, req.GrantorCredentialID)
	if err != nil {
		return nil, err
	}

	now := s.cfg.Now().UTC()
	if a.Status != StatusPending {
		return nil, newError(KindStateConflict, "authorization not found or already responded")
	}
	if !now.Before(a.ValidUntil) {
		return nil, newError(KindStateConflict, "authorization request has expired")
	}

	msg, err := ResponsePayload(req.GrantorCredentialID, id, req.Approved)
	if err != nil {
		return nil, s.internal("canonicalize response", err)
	}
	if err := s.verifySignature(ctx, grantor, msg, req.Signature, "respond"); err != nil {
		return nil, err
	}

	to, event := StatusDenied, notify.EventAuthorizationDenied
	if req.Approved {
		to, event = StatusApproved, notify.EventAuthorizationApproved
	}
	updated, err := s.cfg.Store.Transition(ctx, id, StatusPending, to, Patch{
		GrantorSignature: req.Signature,
		ResponseMessage:  req.Message,
		RespondedAt:      &now,
	})
	if err != nil {
		if errors.Is(err, ErrStatusConflict) || errors.Is(err, ErrNotFound) {
			return nil, newError(KindStateConflict, "authorization not found or already responded")
		}
		return nil, s.internal("respond", err)
	}

	s.transitioned(updated, event)
	return updated, nil
}

// Revoke withdraws an approved authorization.
func (s *Service) Revoke(ctx context.Context, owner, id, grantorCredentialID, reason string) (*Authorization, error) {
	if id == "" || grantorCredentialID == "" {
		return nil, newError(KindValidation, "request id and grantor_credential_id are required")
	}
	a, _, err := s.grantorAction(ctx, owner, id, grantorCredentialID)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusApproved {
		return nil, newError(KindStateConflict, fmt.Sprintf("cannot revoke authorization with status %s", a.Status))
	}

	now := s.cfg.Now().UTC()
	updated, err := s.cfg.Store.Transition(ctx, id, StatusApproved, StatusRevoked, Patch{
		RevokedAt:    &now,
		RevokeReason: reason,
	})
	if err != nil {
		if errors.Is(err, ErrStatusConflict) || errors.Is(err, ErrNotFound) {
			return nil, newError(KindStateConflict, "authorization is no longer approved")
		}
		return nil, s.internal("revoke", err)
	}

	s.transitioned(updated, notify.EventAuthorizationRevoked)
	return updated, nil
}

// ExpireSweep expires every pending authorization whose valid_until has
// passed and returns the ids it expired. Overlapping sweeps never report the
// same id twice.
func (s *Service) ExpireSweep(ctx context.Context) ([]string, error) {
	ids, err := s.cfg.Store.ExpirePending(ctx, s.cfg.Now().UTC())
	if err != nil {
		return nil, s.internal("expire sweep", err)
	}
	for _, id := range ids {
		metrics.A2ATransitionsTotal.WithLabelValues(string(StatusExpired)).Inc()
		s.emit(notify.EventAuthorizationExpired, map[string]any{"authorization_id": id})
	}
	if len(ids) > 0 {
		s.cfg.Logger.Info("expired pending authorizations", "count", len(ids))
	}
	return ids, nil
}

// Check finds an approved, unexpired authorization from grantor to requester
// covering the action and enforces its constraints. Both credentials must
// be active at the time of the check. Non-empty authorization constraints
// take precedence over conditions on the matched grant. Rate limits are
// counted per authorization.
func (s *Service) Check(ctx context.Context, req CheckRequest) (*CheckResult, error) {
	if req.RequesterCredentialID == "" || req.GrantorCredentialID == "" || req.Action == "" {
		return nil, newError(KindValidation, "requester_credential_id, grantor_credential_id and action are required")
	}

	now := s.cfg.Now()
	for _, p := range [...]struct{ role, id string }{
		{"requester", req.RequesterCredentialID},
		{"grantor", req.GrantorCredentialID},
	} {
		c, err := s.credential(ctx, p.id, p.role)
		if err != nil {
			if KindOf(err) == KindNotFound {
				return &CheckResult{Authorized: false, Reason: fmt.Sprintf("%s credential %s not found", p.role, p.id)}, nil
			}
			return nil, err
		}
		if !c.IsActiveAt(now) {
			return &CheckResult{Authorized: false, Reason: fmt.Sprintf("%s credential is not active", p.role)}, nil
		}
	}

	auths, err := s.cfg.Store.FindActive(ctx, req.RequesterCredentialID, req.GrantorCredentialID, now)
	if err != nil {
		return nil, s.internal("find authorizations", err)
	}

	for _, a := range auths {
		grants, err := permission.Parse(a.RequestedPermissions)
		if err != nil {
			s.cfg.Logger.Warn("stored authorization has malformed permissions", "authorization_id", a.ID, "error", err)
			continue
		}
		g := permission.Match(grants, req.Action, req.Resource, req.Context.Domain)
		if g == nil {
			continue
		}

		conds := g.Conditions
		if len(a.Constraints) > 0 {
			c, err := parseConstraints(a.Constraints)
			if err != nil {
				s.cfg.Logger.Warn("stored authorization has malformed constraints", "authorization_id", a.ID, "error", err)
				continue
			}
			if !c.IsZero() {
				conds = c
			}
		}

		res, err := s.cfg.Evaluator.Enforce(ctx, "a2a:"+a.ID, req.Action, conds, req.Context)
		if err != nil {
			return nil, s.internal("enforce constraints", err)
		}
		out := &CheckResult{
			Authorized:        res.Granted,
			AuthorizationID:   a.ID,
			Reason:            res.Reason,
			ConditionsApplied: res.ConditionsApplied,
		}
		if res.RateLimit != nil {
			out.RateLimitRemaining = res.RateLimit.MinuteRemaining
			if out.RateLimitRemaining == nil {
				out.RateLimitRemaining = res.RateLimit.DayRemaining
			}
		}
		return out, nil
	}
	return &CheckResult{Authorized: false, Reason: ReasonNoAuthorization}, nil
}

// Get returns one authorization.
func (s *Service) Get(ctx context.Context, id string) (*Authorization, error) {
	a, err := s.cfg.Store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, s.internal("get authorization", err)
	}
	return a, nil
}

// List returns authorizations matching f.
func (s *Service) List(ctx context.Context, f ListFilter) ([]*Authorization, error) {
	switch {
	case f.Status != "" && !f.Status.Valid():
		return nil, newError(KindValidation, fmt.Sprintf("unknown status %q", f.Status))
	case !f.Role.Valid():
		return nil, newError(KindValidation, fmt.Sprintf("unknown role %q", f.Role))
	case f.Role != RoleAny && f.CredentialID == "":
		return nil, newError(KindValidation, "role requires credential_id")
	case f.Limit < 0 || f.Offset < 0:
		return nil, newError(KindValidation, "limit and offset must not be negative")
	}
	out, err := s.cfg.Store.List(ctx, f)
	if err != nil {
		return nil, s.internal("list authorizations", err)
	}
	return out, nil
}

// grantorAction loads id and checks that grantorCredentialID is its grantor
// and that owner owns that credential.
func (s *Service) grantorAction(ctx context.Context, owner, id, grantorCredentialID string) (*Authorization, *credential.Credential, error) {
	a, err := s.cfg.Store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, newError(KindNotFound, fmt.Sprintf("authorization %s not found", id))
		}
		return nil, nil, s.internal("get authorization", err)
	}
	if a.GrantorCredentialID != grantorCredentialID {
		return nil, nil, newError(KindForbidden, "credential is not the grantor of this authorization")
	}
	grantor, err := s.credential(ctx, grantorCredentialID, "grantor")
	if err != nil {
		return nil, nil, err
	}
	if !owns(owner, grantor) {
		return nil, nil, newError(KindForbidden, "caller does not own the grantor credential")
	}
	return a, grantor, nil
}

func (s *Service) credential(ctx context.Context, id, role string) (*credential.Credential, error) {
	c, err := s.cfg.Credentials.Get(ctx, id)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return nil, newError(KindNotFound, fmt.Sprintf("%s credential %s not found", role, id))
		}
		return nil, s.internal("get credential", err)
	}
	return c, nil
}

func (s *Service) verifySignature(ctx context.Context, signer *credential.Credential, msg []byte, sig, op string) error {
	issuer, err := s.cfg.Issuers.GetIssuer(ctx, signer.Issuer.IssuerID)
	if err != nil {
		if errors.Is(err, credential.ErrIssuerNotFound) {
			return newError(KindNotFound, fmt.Sprintf("issuer %s not found", signer.Issuer.IssuerID))
		}
		return s.internal("get issuer", err)
	}
	if err := crypto.VerifySignature(issuer.PublicKey, msg, sig); err != nil {
		s.cfg.Logger.Warn("a2a signature rejected",
			"security_event", true,
			"op", op,
			"credential_id", signer.CredentialID,
			"issuer_id", issuer.ID,
			"error", err)
		return wrapError(KindSignature, "signature verification failed", err)
	}
	return nil
}

func (s *Service) internal(op string, err error) *Error {
	s.cfg.Logger.Error("a2a dependency failed", "op", op, "error", err)
	return wrapError(KindInternal, "internal error", err)
}

func (s *Service) transitioned(a *Authorization, event string) {
	metrics.A2ATransitionsTotal.WithLabelValues(string(a.Status)).Inc()
	s.cfg.Logger.Info("authorization transitioned",
		"authorization_id", a.ID,
		"status", a.Status,
		"requester_credential_id", a.RequesterCredentialID,
		"grantor_credential_id", a.GrantorCredentialID)
	s.emit(event, a)
}

func (s *Service) emit(typ string, payload any) {
	ev := notify.NewEvent(typ, payload)
	s.cfg.Tasks.Submit("notify-"+typ, func(ctx context.Context) error {
		return s.cfg.Notifier.Emit(ctx, ev)
	})
}

// owns reports whether owner may act for c. Credentials without an owner
// are only usable by callers without an identity.
func owns(owner string, c *credential.Credential) bool {
	return owner == c.OwnerID
}

func validateCreate(req CreateRequest, now time.Time) (string, *time.Time, error) {
	switch {
	case req.RequesterCredentialID == "" || req.GrantorCredentialID == "":
		return "", nil, newError(KindValidation, "requester_credential_id and grantor_credential_id are required")
	case req.RequesterCredentialID == req.GrantorCredentialID:
		return "", nil, newError(KindValidation, "a credential cannot authorize itself")
	case req.Signature == "":
		return "", nil, newError(KindValidation, "signature is required")
	}
	scope, err := req.ScopeText()
	if err != nil {
		return "", nil, wrapError(KindValidation, "scope is malformed", err)
	}
	until, err := req.ValidUntilTime()
	if err != nil {
		return "", nil, wrapError(KindValidation, "valid_until is malformed", err)
	}
	if until != nil && !until.After(now) {
		return "", nil, newError(KindValidation, "valid_until must be in the future")
	}
	grants, err := permission.Parse(req.RequestedPermissions)
	if err != nil {
		return "", nil, wrapError(KindValidation, "requested_permissions are malformed", err)
	}
	if len(grants) == 0 {
		return "", nil, newError(KindValidation, "requested_permissions must not be empty")
	}
	if _, err := parseConstraints(req.Constraints); err != nil {
		return "", nil, wrapError(KindValidation, "constraints are malformed", err)
	}
	return scope, until, nil
}

func parseConstraints(raw json.RawMessage) (*permission.Conditions, error) {
	if isNull(raw) {
		return nil, nil
	}
	var c permission.Conditions
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
