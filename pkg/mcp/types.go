package mcp

import "time"

// Decision is the tool access decision.
type Decision int

const (
	DecisionUnspecified Decision = iota
	DecisionAllow
	DecisionDeny
)

// String returns the string representation of the decision.
func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "ALLOW"
	case DecisionDeny:
		return "DENY"
	default:
		return "UNSPECIFIED"
	}
}

// EvaluateConfig tunes a single tool access evaluation.
type EvaluateConfig struct {
	// AllowedTools are path.Match patterns. Empty allows every tool.
	AllowedTools []string

	// MinTrustScore denies credentials scoring below it. Zero disables the check.
	MinTrustScore float64

	// RequirePermission checks the tool name as an action against the
	// credential's grants.
	RequirePermission bool
}

// EvaluateResult is the outcome of Guard.EvaluateToolAccess.
type EvaluateResult struct {
	Decision     Decision   `json:"-"`
	DecisionText string     `json:"decision"`
	DenyReason   DenyReason `json:"-"`
	DenyCode     string     `json:"deny_reason,omitempty"`
	DenyDetail   string     `json:"deny_detail,omitempty"`
	CredentialID string     `json:"credential_id,omitempty"`
	AgentID      string     `json:"agent_id,omitempty"`
	TrustScore   *float64   `json:"trust_score,omitempty"`
	EvidenceID   string     `json:"evidence_id"`
	Timestamp    time.Time  `json:"timestamp"`
}

// EvidenceRecord is the audit record written for every tool decision.
type EvidenceRecord struct {
	ID           string    `json:"id"`
	EventName    string    `json:"event_name"`
	CredentialID string    `json:"credential_id,omitempty"`
	AgentID      string    `json:"agent_id,omitempty"`
	Target       string    `json:"target"`
	Decision     string    `json:"decision"`
	DenyReason   string    `json:"deny_reason,omitempty"`
	ParamsHash   string    `json:"params_hash,omitempty"`
	TrustScore   *float64  `json:"trust_score,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}
