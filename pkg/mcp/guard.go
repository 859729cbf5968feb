package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/agentid-dev/agentid-core/pkg/credential"
)

// EventToolInvocation names every evidence record the guard emits.
const EventToolInvocation = "agentid.tool_invocation"

// Verifier is the subset of credential.Verifier the guard needs.
type Verifier interface {
	Verify(ctx context.Context, req credential.Request) *credential.Result
}

// EvidenceStore persists evidence records.
type EvidenceStore interface {
	Store(ctx context.Context, record EvidenceRecord) error
}

// NoOpEvidenceStore discards evidence.
type NoOpEvidenceStore struct{}

func (NoOpEvidenceStore) Store(context.Context, EvidenceRecord) error { return nil }

// Guard decides tool access for credentialed agents.
type Guard struct {
	verifier Verifier
	evidence EvidenceStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewGuard creates a Guard. A nil store discards evidence.
func NewGuard(verifier Verifier, evidence EvidenceStore) *Guard {
	if evidence == nil {
		evidence = NoOpEvidenceStore{}
	}
	return &Guard{verifier: verifier, evidence: evidence, logger: slog.Default(), now: time.Now}
}

// EvaluateToolAccess verifies the credential in req and decides whether it
// may call toolName. Evidence is emitted for allow and deny alike; a store
// failure is logged and does not change the decision.
func (g *Guard) EvaluateToolAccess(ctx context.Context, toolName, paramsHash string, req credential.Request, cfg *EvaluateConfig) *EvaluateResult {
	if cfg == nil {
		cfg = &EvaluateConfig{}
	}

	result := &EvaluateResult{
		Decision:   DecisionAllow,
		EvidenceID: uuid.NewString(),
		Timestamp:  g.now().UTC(),
	}
	deny := func(reason DenyReason, detail string) {
		result.Decision = DecisionDeny
		result.DenyReason = reason
		result.DenyDetail = detail
	}

	if cfg.RequirePermission {
		req.CheckPermission = &credential.PermissionCheck{Action: toolName}
	}

	switch {
	case req.CredentialID == "" && len(req.Credential) == 0:
		deny(DenyReasonCredentialMissing, "no credential presented")
	case g.verifier == nil:
		deny(DenyReasonInternal, "credential verification not available")
	default:
		res := g.verifier.Verify(ctx, req)
		if !res.Valid {
			deny(CodeToDenyReason(res.Code()), res.Error.Message)
			break
		}
		result.CredentialID = res.Credential.CredentialID
		result.AgentID = res.Credential.AgentID
		result.TrustScore = res.TrustScore

		switch {
		case cfg.MinTrustScore > 0 && (res.TrustScore == nil || *res.TrustScore < cfg.MinTrustScore):
			deny(DenyReasonTrustInsufficient, fmt.Sprintf("trust score below minimum %.1f", cfg.MinTrustScore))
		case len(cfg.AllowedTools) > 0 && !isToolAllowed(toolName, cfg.AllowedTools):
			deny(DenyReasonToolNotAllowed, fmt.Sprintf("tool %q not in allowed list", toolName))
		case res.PermissionCheck != nil && !res.PermissionCheck.Granted:
			deny(DenyReasonPermissionDenied, res.PermissionCheck.Reason)
		}
	}

	result.DecisionText = result.Decision.String()
	if result.Decision == DecisionDeny {
		result.DenyCode = result.DenyReason.String()
	}

	record := EvidenceRecord{
		ID:           result.EvidenceID,
		EventName:    EventToolInvocation,
		CredentialID: result.CredentialID,
		AgentID:      result.AgentID,
		Target:       toolName,
		Decision:     result.DecisionText,
		DenyReason:   result.DenyCode,
		ParamsHash:   paramsHash,
		TrustScore:   result.TrustScore,
		Timestamp:    result.Timestamp,
	}
	if err := g.evidence.Store(ctx, record); err != nil {
		g.logger.Error("failed to store tool evidence", "evidence_id", record.ID, "error", err)
	}
	return result
}

func isToolAllowed(toolName string, allowed []string) bool {
	for _, pattern := range allowed {
		if ok, err := path.Match(pattern, toolName); err == nil && ok {
			return true
		}
	}
	return false
}
