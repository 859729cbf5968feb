package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentid-dev/agentid-core/pkg/crypto"
	"github.com/agentid-dev/agentid-core/pkg/metrics"
	"github.com/agentid-dev/agentid-core/pkg/permission"
	"github.com/agentid-dev/agentid-core/pkg/policy"
	"github.com/agentid-dev/agentid-core/pkg/reputation"
	"github.com/agentid-dev/agentid-core/pkg/tasks"
)

// DefaultLookupTimeout bounds repository calls made during one verification.
const DefaultLookupTimeout = 5 * time.Second

// PermissionCheck asks the verifier to evaluate an action after a
// successful verification.
type PermissionCheck struct {
	Action   string             `json:"action"`
	Resource string             `json:"resource,omitempty"`
	Context  permission.Context `json:"context,omitempty"`
}

// Request identifies the credential to verify: exactly one of CredentialID
// and Credential must be set.
type Request struct {
	CredentialID    string           `json:"credential_id,omitempty"`
	Credential      json.RawMessage  `json:"credential,omitempty"`
	CheckPermission *PermissionCheck `json:"check_permission,omitempty"`
}

// IssuerSummary is the issuer part of an Excerpt.
type IssuerSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Verified bool   `json:"verified"`
}

// Excerpt is the credential view returned by a successful verification.
type Excerpt struct {
	CredentialID string             `json:"credential_id"`
	AgentID      string             `json:"agent_id"`
	AgentName    string             `json:"agent_name"`
	AgentType    string             `json:"agent_type,omitempty"`
	Issuer       IssuerSummary      `json:"issuer"`
	Permissions  []permission.Grant `json:"permissions"`
	ValidUntil   time.Time          `json:"valid_until"`
}

// Result is the outcome of Verify. Verify never returns a Go error: every
// failure is described by Error.
type Result struct {
	Valid              bool               `json:"valid"`
	Credential         *Excerpt           `json:"credential,omitempty"`
	PermissionCheck    *permission.Result `json:"permission_check,omitempty"`
	PermissionPolicy   *PolicyInfo        `json:"permission_policy,omitempty"`
	LivePermissions    bool               `json:"live_permissions,omitempty"`
	TrustScore         *float64           `json:"trust_score,omitempty"`
	Error              *Error             `json:"error,omitempty"`
	VerificationTimeMs float64            `json:"verification_time_ms"`
}

// Code returns the failure reason code, or "" for a valid result.
func (r *Result) Code() string {
	if r.Error == nil {
		return ""
	}
	return r.Error.Code
}

// VerifierConfig wires a Verifier. Credentials and Issuers are required.
type VerifierConfig struct {
	Credentials Repository
	Issuers     IssuerRepository

	// Policies resolves live permission policies. Optional.
	Policies PolicyRepository

	// Revocations is consulted for credentials supplied as payloads. Optional.
	Revocations RevocationList

	// Evaluator runs permission checks. Defaults to an in-memory evaluator.
	Evaluator *permission.Evaluator

	// Rego compiles Rego modules attached to policies. Defaults to a new cache.
	Rego *policy.Cache

	// Reputation receives verification outcomes. Optional.
	Reputation *reputation.Engine

	// Log records every verification. Optional.
	Log VerificationLog

	// Tasks runs logging and reputation updates. Defaults to inline execution.
	Tasks tasks.Runner

	// Cache holds verified credentials by id. Optional.
	Cache *Cache

	// LookupTimeout bounds repository calls (default: 5s).
	LookupTimeout time.Duration

	Logger *slog.Logger

	// Now overrides the current time (for testing).
	Now func() time.Time
}

// Verifier checks credential status, validity window and signature.
type Verifier struct {
	cfg VerifierConfig
}

// NewVerifier validates cfg and fills defaults.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if cfg.Credentials == nil {
		return nil, errors.New("credential repository is required")
	}
	if cfg.Issuers == nil {
		return nil, errors.New("issuer repository is required")
	}
	if cfg.Evaluator == nil {
		cfg.Evaluator = permission.NewEvaluator(nil)
	}
	if cfg.Rego == nil {
		cfg.Rego = policy.NewCache()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tasks == nil {
		cfg.Tasks = tasks.Inline{Logger: cfg.Logger}
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Verifier{cfg: cfg}, nil
}

// resolved is what verify learned about the credential, for side effects.
type resolved struct {
	credential  *Credential
	issuer      *Issuer
	fromStore   bool
	signatureOK bool
}

// Verify runs the verification steps in order, stopping at the first failure:
//  1. resolve the credential and its issuer
//  2. stored status must be active
//  3. now must fall in [valid_from, valid_until)
//  4. the issuer's signature must verify over the canonical payload
//
// On success the permission check, if requested, runs on the effective grants.
// Logging and reputation updates are submitted in the background and never
// change the result.
func (v *Verifier) Verify(ctx context.Context, req Request) *Result {
	start := time.Now()
	res, rc := v.verify(ctx, req)
	elapsed := time.Since(start)
	res.VerificationTimeMs = float64(elapsed.Microseconds()) / 1000

	metrics.ObserveVerification(res.Valid, res.Code(), elapsed)
	v.afterVerify(req, res, rc)
	return res
}

func (v *Verifier) verify(ctx context.Context, req Request) (*Result, resolved) {
	var rc resolved

	if (req.CredentialID == "") == (len(req.Credential) == 0) {
		return fail(NewError(CodeValidation, "exactly one of credential_id or credential is required")), rc
	}
	if req.CheckPermission != nil && req.CheckPermission.Action == "" {
		return fail(NewError(CodeValidation, "check_permission.action is required")), rc
	}

	ctx, cancel := context.WithTimeout(ctx, v.cfg.LookupTimeout)
	defer cancel()

	// Step 1: resolve credential and issuer. Stored credentials are always
	// read from the repository so status changes take effect immediately.
	fromStore := req.CredentialID != ""
	var cred *Credential
	var issuer *Issuer
	var cachedDigest string
	if fromStore {
		c, err := v.cfg.Credentials.Get(ctx, req.CredentialID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return fail(NewError(CodeNotFound, fmt.Sprintf("credential %s not found", req.CredentialID))), rc
			}
			return v.internal("credential lookup", err), rc
		}
		cred = c
		if iss, digest, ok := v.cfg.Cache.Get(cred.CredentialID); ok && iss.ID == cred.Issuer.IssuerID {
			issuer, cachedDigest = iss, digest
		}
	} else {
		var p Payload
		if err := json.Unmarshal(req.Credential, &p); err != nil {
			return fail(WrapError(CodeValidation, "credential payload is malformed", err)), rc
		}
		if p.CredentialID == "" {
			return fail(NewError(CodeValidation, "credential payload has no credential_id")), rc
		}
		cred = &Credential{Payload: p, Status: StatusActive}
	}
	rc.credential = cred
	rc.fromStore = fromStore

	if issuer == nil {
		iss, err := v.lookupIssuer(ctx, cred.Issuer.IssuerID)
		if err != nil {
			if errors.Is(err, ErrIssuerNotFound) {
				return fail(NewError(CodeIssuerNotFound, fmt.Sprintf("issuer %q not found", cred.Issuer.IssuerID))), rc
			}
			return v.internal("issuer lookup", err), rc
		}
		issuer = iss
	}
	rc.issuer = issuer

	// Step 2: status
	if fromStore && cred.Status != StatusActive {
		return fail(NewError(CodeRevoked, fmt.Sprintf("credential status is %s", cred.Status))), rc
	}
	if !fromStore && v.cfg.Revocations != nil && v.cfg.Revocations.IsRevoked(cred.CredentialID) {
		return fail(NewError(CodeRevoked, "credential has been revoked")), rc
	}

	// Step 3: validity window
	now := v.cfg.Now()
	if now.Before(cred.Constraints.ValidFrom) {
		return fail(NewError(CodeNotYetValid, fmt.Sprintf("credential is valid from %s", cred.Constraints.ValidFrom.Format(time.RFC3339)))), rc
	}
	if !now.Before(cred.Constraints.ValidUntil) {
		return fail(NewError(CodeExpired, fmt.Sprintf("credential expired at %s", cred.Constraints.ValidUntil.Format(time.RFC3339)))), rc
	}

	// Step 4: signature
	var msg []byte
	var err error
	if fromStore {
		msg, err = crypto.CanonicalPayload(cred.Payload)
	} else {
		msg, err = crypto.CanonicalPayloadJSON(req.Credential)
	}
	var digest string
	if err == nil {
		digest = SignatureDigest(msg, cred.Signature)
		if cachedDigest == "" || digest != cachedDigest {
			err = crypto.VerifySignature(issuer.PublicKey, msg, cred.Signature)
		}
	}
	if err != nil {
		v.cfg.Cache.Invalidate(cred.CredentialID)
		v.cfg.Logger.Warn("credential signature rejected",
			"security_event", true,
			"credential_id", cred.CredentialID,
			"issuer_id", issuer.ID,
			"error", err)
		return fail(WrapError(CodeInvalidSignature, "signature verification failed", err)), rc
	}
	rc.signatureOK = true

	if fromStore && digest != cachedDigest {
		v.cfg.Cache.Put(cred.CredentialID, issuer, digest, cred.Constraints.ValidUntil)
	}

	// Step 5: effective permissions and excerpt
	grants, pol, err := v.effectivePermissions(ctx, cred)
	if err != nil {
		if e, ok := AsError(err); ok && e.Code == CodeValidation {
			return fail(e), rc
		}
		return v.internal("policy lookup", err), rc
	}

	res := &Result{
		Valid: true,
		Credential: &Excerpt{
			CredentialID: cred.CredentialID,
			AgentID:      cred.AgentID,
			AgentName:    cred.AgentName,
			AgentType:    cred.AgentType,
			Issuer: IssuerSummary{
				ID:       issuer.ID,
				Name:     issuer.Name,
				Verified: issuer.Verified,
			},
			Permissions: grants,
			ValidUntil:  cred.Constraints.ValidUntil,
		},
	}
	if pol != nil {
		res.PermissionPolicy = &PolicyInfo{ID: pol.ID, Name: pol.Name, Version: pol.Version}
		res.LivePermissions = true
	}
	if v.cfg.Reputation != nil {
		if rec, err := v.cfg.Reputation.Get(ctx, cred.CredentialID); err == nil {
			score := rec.TrustScore
			res.TrustScore = &score
		}
	}

	if req.CheckPermission != nil {
		pr, err := v.checkPermission(ctx, cred, issuer, grants, pol, req.CheckPermission)
		if err != nil {
			return v.internal("permission check", err), rc
		}
		res.PermissionCheck = pr
	}
	return res, rc
}

func (v *Verifier) lookupIssuer(ctx context.Context, id string) (*Issuer, error) {
	if id == "" {
		return nil, ErrIssuerNotFound
	}
	iss, err := v.cfg.Issuers.GetIssuer(ctx, id)
	if err != nil {
		return nil, err
	}
	if iss.PublicKey == "" {
		return nil, ErrIssuerNotFound
	}
	return iss, nil
}

// effectivePermissions returns the policy's live permissions when the
// credential references a policy, otherwise the embedded ones.
func (v *Verifier) effectivePermissions(ctx context.Context, cred *Credential) ([]permission.Grant, *Policy, error) {
	raw := cred.Permissions
	var pol *Policy
	if cred.PolicyID != "" && v.cfg.Policies != nil {
		p, err := v.cfg.Policies.GetPolicy(ctx, cred.PolicyID)
		switch {
		case err == nil:
			pol = p
			raw = p.Permissions
		case errors.Is(err, ErrPolicyNotFound):
			v.cfg.Logger.Warn("permission policy missing, using embedded permissions",
				"credential_id", cred.CredentialID, "policy_id", cred.PolicyID)
		default:
			return nil, nil, err
		}
	}
	grants, err := permission.Parse(raw)
	if err != nil {
		return nil, nil, WrapError(CodeValidation, "credential permissions are malformed", err)
	}
	if grants == nil {
		grants = []permission.Grant{}
	}
	return grants, pol, nil
}

func (v *Verifier) checkPermission(ctx context.Context, cred *Credential, issuer *Issuer, grants []permission.Grant, pol *Policy, pc *PermissionCheck) (*permission.Result, error) {
	pr, err := v.cfg.Evaluator.Check(ctx, permission.Request{
		CredentialID: cred.CredentialID,
		Action:       pc.Action,
		Resource:     pc.Resource,
		Context:      pc.Context,
	}, grants)
	if err != nil {
		return nil, err
	}
	if !pr.Granted || pol == nil || pol.Rego == "" {
		return &pr, nil
	}

	var pctx map[string]any
	if b, err := json.Marshal(pc.Context); err == nil {
		_ = json.Unmarshal(b, &pctx)
	}
	engine, err := v.cfg.Rego.Get(ctx, pol.Rego)
	var d policy.Decision
	if err == nil {
		d, err = engine.Evaluate(ctx, policy.Input{
			CredentialID:      cred.CredentialID,
			AgentID:           cred.AgentID,
			AgentType:         cred.AgentType,
			IssuerID:          issuer.ID,
			IssuerVerified:    issuer.Verified,
			Action:            pc.Action,
			Resource:          pc.Resource,
			Context:           pctx,
			ConditionsApplied: pr.ConditionsApplied,
		})
	}
	if err != nil {
		v.cfg.Logger.Error("policy evaluation failed", "policy_id", pol.ID, "error", err)
		pr.Granted = false
		pr.Reason = "policy evaluation failed"
		return &pr, nil
	}
	if !d.Allow {
		pr.Granted = false
		pr.Reason = d.Reason()
	}
	return &pr, nil
}

func (v *Verifier) internal(op string, err error) *Result {
	v.cfg.Logger.Error("verification dependency failed", "op", op, "error", err)
	return fail(WrapError(CodeInternal, "internal error", err))
}

func fail(e *Error) *Result {
	return &Result{Valid: false, Error: e}
}

// afterVerify submits the verification log entry and reputation event.
func (v *Verifier) afterVerify(req Request, res *Result, rc resolved) {
	credentialID := req.CredentialID
	if rc.credential != nil {
		credentialID = rc.credential.CredentialID
	}

	if v.cfg.Log != nil {
		entry := LogEntry{
			ID:           uuid.NewString(),
			CredentialID: credentialID,
			Valid:        res.Valid,
			Code:         res.Code(),
			DurationMs:   res.VerificationTimeMs,
			Timestamp:    v.cfg.Now().UTC(),
		}
		if req.CheckPermission != nil {
			entry.Action = req.CheckPermission.Action
		}
		if res.PermissionCheck != nil {
			granted := res.PermissionCheck.Granted
			entry.Granted = &granted
		}
		v.cfg.Tasks.Submit("verification-log", func(ctx context.Context) error {
			return v.cfg.Log.RecordVerification(ctx, entry)
		})
	}

	if v.cfg.Reputation == nil || !reputationEligible(res, rc) {
		return
	}
	ev := reputation.Event{
		Type:               reputation.EventVerificationSuccess,
		CredentialID:       rc.credential.CredentialID,
		IssuerID:           rc.credential.Issuer.IssuerID,
		CredentialIssuedAt: rc.credential.IssuedAt,
		At:                 v.cfg.Now(),
	}
	if ev.CredentialIssuedAt.IsZero() {
		ev.CredentialIssuedAt = rc.credential.Constraints.ValidFrom
	}
	if rc.issuer != nil {
		ev.IssuerVerified = rc.issuer.Verified
	}
	if !res.Valid {
		ev.Type = reputation.EventVerificationFailure
		ev.Failure = failureKind(res.Code())
	}
	v.cfg.Tasks.Submit("reputation-update", func(ctx context.Context) error {
		_, err := v.cfg.Reputation.Apply(ctx, ev)
		return err
	})
}

// reputationEligible reports whether a verification outcome may move a
// credential's trust score. Only credentials resolved from the repository
// count, plus supplied payloads whose signature verified, so a forged
// payload naming someone else's credential id has no effect.
func reputationEligible(res *Result, rc resolved) bool {
	if rc.credential == nil {
		return false
	}
	switch res.Code() {
	case CodeInternal, CodeValidation, CodeNotFound, CodeIssuerNotFound:
		return false
	}
	return rc.fromStore || rc.signatureOK
}

func failureKind(code string) reputation.FailureKind {
	switch code {
	case CodeInvalidSignature:
		return reputation.FailureInvalidSignature
	case CodeRevoked:
		return reputation.FailureRevoked
	case CodeExpired:
		return reputation.FailureExpired
	default:
		return reputation.FailureOther
	}
}
