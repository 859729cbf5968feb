package mcp

import "github.com/agentid-dev/agentid-core/pkg/credential"

// DenyReason is why a tool invocation was refused.
type DenyReason int

const (
	DenyReasonUnspecified DenyReason = iota
	DenyReasonCredentialMissing
	DenyReasonCredentialInvalid
	DenyReasonCredentialExpired
	DenyReasonCredentialRevoked
	DenyReasonTrustInsufficient
	DenyReasonToolNotAllowed
	DenyReasonPermissionDenied
	DenyReasonInternal
)

// String returns the wire code for the reason.
func (r DenyReason) String() string {
	switch r {
	case DenyReasonCredentialMissing:
		return "TOOL_AUTH_MISSING"
	case DenyReasonCredentialInvalid:
		return "TOOL_CREDENTIAL_INVALID"
	case DenyReasonCredentialExpired:
		return "TOOL_CREDENTIAL_EXPIRED"
	case DenyReasonCredentialRevoked:
		return "TOOL_CREDENTIAL_REVOKED"
	case DenyReasonTrustInsufficient:
		return "TOOL_TRUST_INSUFFICIENT"
	case DenyReasonToolNotAllowed:
		return "TOOL_NOT_ALLOWED"
	case DenyReasonPermissionDenied:
		return "TOOL_PERMISSION_DENIED"
	case DenyReasonInternal:
		return "TOOL_INTERNAL_ERROR"
	default:
		return "UNSPECIFIED"
	}
}

// CodeToDenyReason maps a verification reason code to a DenyReason.
func CodeToDenyReason(code string) DenyReason {
	switch code {
	case "":
		return DenyReasonUnspecified
	case credential.CodeValidation:
		return DenyReasonCredentialMissing
	case credential.CodeExpired, credential.CodeNotYetValid:
		return DenyReasonCredentialExpired
	case credential.CodeRevoked:
		return DenyReasonCredentialRevoked
	case credential.CodeInternal:
		return DenyReasonInternal
	default:
		return DenyReasonCredentialInvalid
	}
}
