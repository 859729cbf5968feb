package credential

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentid-dev/agentid-core/pkg/crypto"
	"github.com/agentid-dev/agentid-core/pkg/permission"
)

// Issue normalizes p and signs it with the issuer's private key. Times are
// truncated to whole seconds in UTC so the payload survives storage round
// trips byte for byte. A missing credential id is generated.
func Issue(p Payload, priv ed25519.PrivateKey) (Payload, error) {
	if err := validatePayload(&p); err != nil {
		return Payload{}, err
	}
	if p.CredentialID == "" {
		p.CredentialID = "cred_" + uuid.NewString()
	}
	p.Constraints.ValidFrom = p.Constraints.ValidFrom.UTC().Truncate(time.Second)
	p.Constraints.ValidUntil = p.Constraints.ValidUntil.UTC().Truncate(time.Second)
	p.Signature = ""

	sig, err := crypto.SignPayload(priv, p)
	if err != nil {
		return Payload{}, fmt.Errorf("failed to sign credential: %w", err)
	}
	p.Signature = sig
	return p, nil
}

// VerifySignature checks p's signature against a base64 issuer public key.
func VerifySignature(p Payload, publicKeyB64 string) error {
	msg, err := crypto.CanonicalPayload(p)
	if err != nil {
		return WrapError(CodeInvalidSignature, "failed to canonicalize credential", err)
	}
	if err := crypto.VerifySignature(publicKeyB64, msg, p.Signature); err != nil {
		return WrapError(CodeInvalidSignature, "signature verification failed", err)
	}
	return nil
}

func validatePayload(p *Payload) error {
	switch {
	case p.AgentID == "":
		return NewError(CodeValidation, "agent_id is required")
	case p.AgentName == "":
		return NewError(CodeValidation, "agent_name is required")
	case p.Issuer.IssuerID == "":
		return NewError(CodeValidation, "issuer.issuer_id is required")
	case p.Constraints.ValidFrom.IsZero() || p.Constraints.ValidUntil.IsZero():
		return NewError(CodeValidation, "constraints.valid_from and valid_until are required")
	case !p.Constraints.ValidFrom.Before(p.Constraints.ValidUntil):
		return NewError(CodeValidation, "valid_from must be before valid_until")
	}
	if _, err := permission.Parse(p.Permissions); err != nil {
		return WrapError(CodeValidation, "permissions are malformed", err)
	}
	return nil
}
