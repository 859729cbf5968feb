package a2a

import (
	"crypto/ed25519"
	"encoding/json"

	"github.com/agentid-dev/agentid-core/pkg/crypto"
)

// createTuple is the signed part of a create request. Absent optional
// fields are signed as null; present ones as the raw JSON received.
type createTuple struct {
	RequesterCredentialID string          `json:"requester_credential_id"`
	GrantorCredentialID   string          `json:"grantor_credential_id"`
	RequestedPermissions  json.RawMessage `json:"requested_permissions"`
	Scope                 json.RawMessage `json:"scope"`
	Constraints           json.RawMessage `json:"constraints"`
	ValidUntil            json.RawMessage `json:"valid_until"`
}

// responseTuple is the signed part of a response.
type responseTuple struct {
	GrantorCredentialID string `json:"grantor_credential_id"`
	RequestID           string `json:"request_id"`
	Approved            bool   `json:"approved"`
}

// CreatePayload returns the canonical bytes a requester signs.
func CreatePayload(req CreateRequest) ([]byte, error) {
	return crypto.Canonicalize(createTuple{
		RequesterCredentialID: req.RequesterCredentialID,
		GrantorCredentialID:   req.GrantorCredentialID,
		RequestedPermissions:  orNull(req.RequestedPermissions),
		Scope:                 orNull(req.Scope),
		Constraints:           orNull(req.Constraints),
		ValidUntil:            orNull(req.ValidUntil),
	})
}

func orNull(raw json.RawMessage) json.RawMessage {
	if isNull(raw) {
		return json.RawMessage("null")
	}
	return raw
}

// ResponsePayload returns the canonical bytes a grantor signs.
func ResponsePayload(grantorCredentialID, requestID string, approved bool) ([]byte, error) {
	return crypto.Canonicalize(responseTuple{
		GrantorCredentialID: grantorCredentialID,
		RequestID:           requestID,
		Approved:            approved,
	})
}

// SignCreate signs req in place with the requester issuer's key.
func SignCreate(priv ed25519.PrivateKey, req *CreateRequest) error {
	msg, err := CreatePayload(*req)
	if err != nil {
		return err
	}
	req.Signature = crypto.Sign(priv, msg)
	return nil
}

// SignResponse signs req in place with the grantor issuer's key.
func SignResponse(priv ed25519.PrivateKey, requestID string, req *RespondRequest) error {
	msg, err := ResponsePayload(req.GrantorCredentialID, requestID, req.Approved)
	if err != nil {
		return err
	}
	req.Signature = crypto.Sign(priv, msg)
	return nil
}
