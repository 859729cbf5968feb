package a2a

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"time"

	"github.com/agentid-dev/agentid-core/pkg/crypto"
)

// ConversationStatus is the state of a conversation between two credentials.
type ConversationStatus string

// Conversation statuses. Only active conversations accept messages.
const (
	ConversationActive  ConversationStatus = "active"
	ConversationClosed  ConversationStatus = "closed"
	ConversationBlocked ConversationStatus = "blocked"
)

// Valid reports whether s is a known status.
func (s ConversationStatus) Valid() bool {
	switch s {
	case ConversationActive, ConversationClosed, ConversationBlocked:
		return true
	}
	return false
}

// MessageType classifies message content.
type MessageType string

// Message types.
const (
	MessageText          MessageType = "text"
	MessageRequest       MessageType = "request"
	MessageResponse      MessageType = "response"
	MessageAuthorization MessageType = "authorization"
	MessageData          MessageType = "data"
	MessageError         MessageType = "error"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageRequest, MessageResponse, MessageAuthorization, MessageData, MessageError:
		return true
	}
	return false
}

// Conversation is a message channel between an initiator and a recipient.
type Conversation struct {
	ID                    string             `json:"id"`
	InitiatorCredentialID string             `json:"initiator_credential_id"`
	RecipientCredentialID string             `json:"recipient_credential_id"`
	Subject               string             `json:"subject,omitempty"`
	Status                ConversationStatus `json:"status"`
	Encrypted             bool               `json:"encrypted"`
	MessageCount          int                `json:"message_count"`
	LastMessageAt         *time.Time         `json:"last_message_at,omitempty"`
	CreatedAt             time.Time          `json:"created_at"`
	UpdatedAt             time.Time          `json:"updated_at"`
}

// Clone returns a deep copy.
func (c *Conversation) Clone() *Conversation {
	cp := *c
	if c.LastMessageAt != nil {
		t := *c.LastMessageAt
		cp.LastMessageAt = &t
	}
	return &cp
}

// Participant reports whether credentialID is one side of c.
func (c *Conversation) Participant(credentialID string) bool {
	return credentialID != "" &&
		(credentialID == c.InitiatorCredentialID || credentialID == c.RecipientCredentialID)
}

// Message is one signed message. Seq numbers messages within a
// conversation from 1.
type Message struct {
	ID                 string          `json:"id"`
	ConversationID     string          `json:"conversation_id"`
	Seq                int             `json:"seq"`
	SenderCredentialID string          `json:"sender_credential_id"`
	MessageType        MessageType     `json:"message_type"`
	Content            json.RawMessage `json:"content"`
	Signature          string          `json:"signature"`
	SignatureTimestamp int64           `json:"signature_timestamp"`
	Nonce              string          `json:"nonce"`
	ReplyToID          string          `json:"reply_to_id,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

// Clone returns a deep copy.
func (m *Message) Clone() *Message {
	cp := *m
	cp.Content = append(json.RawMessage(nil), m.Content...)
	return &cp
}

// ConversationFilter narrows ListConversations. CredentialID matches either
// side. Results are most recently updated first.
type ConversationFilter struct {
	CredentialID string
	Status       ConversationStatus
	Limit        int
	Offset       int
}

func (f ConversationFilter) matches(c *Conversation) bool {
	if f.CredentialID != "" && !c.Participant(f.CredentialID) {
		return false
	}
	return f.Status == "" || c.Status == f.Status
}

// MessageFilter pages through a conversation oldest first. After, when set,
// is a message id; only later messages are returned.
type MessageFilter struct {
	After  string
	Limit  int
	Offset int
}

// Store errors for conversations.
var (
	ErrConversationNotFound = newError(KindNotFound, "conversation not found")
	ErrMessageNotFound      = newError(KindNotFound, "message not found")
	ErrConversationInactive = newError(KindStateConflict, "conversation is not active")
	ErrDuplicateNonce       = newError(KindStateConflict, "message nonce already used in this conversation")
)

// ConversationStore persists conversations and their messages.
// AppendMessage assigns the message its Seq and fails with
// ErrConversationInactive unless the conversation is active at commit time,
// and with ErrDuplicateNonce when the nonce was already used in it.
// SetConversationStatus is a compare-and-set on status.
type ConversationStore interface {
	InsertConversation(ctx context.Context, c *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, f ConversationFilter) ([]*Conversation, int, error)
	SetConversationStatus(ctx context.Context, id string, from, to ConversationStatus, at time.Time) (*Conversation, error)
	AppendMessage(ctx context.Context, m *Message) (*Message, error)
	GetMessage(ctx context.Context, id string) (*Message, error)
	ListMessages(ctx context.Context, conversationID string, f MessageFilter) ([]*Message, error)
}

// messageTuple is the signed part of a message.
type messageTuple struct {
	ConversationID     string          `json:"conversation_id"`
	SenderCredentialID string          `json:"sender_credential_id"`
	MessageType        MessageType     `json:"message_type"`
	Content            json.RawMessage `json:"content"`
	SignatureTimestamp int64           `json:"signature_timestamp"`
	Nonce              string          `json:"nonce"`
	ReplyToID          *string         `json:"reply_to_id"`
}

// MessagePayload returns the canonical bytes a sender signs. An empty
// message type is signed as text.
func MessagePayload(conversationID string, req SendMessageRequest) ([]byte, error) {
	t := messageTuple{
		ConversationID:     conversationID,
		SenderCredentialID: req.SenderCredentialID,
		MessageType:        req.messageType(),
		Content:            orNull(req.Content),
		SignatureTimestamp: req.SignatureTimestamp,
		Nonce:              req.Nonce,
	}
	if req.ReplyToID != "" {
		reply := req.ReplyToID
		t.ReplyToID = &reply
	}
	return crypto.Canonicalize(t)
}

// SignMessage signs req in place with the sender issuer's key.
func SignMessage(priv ed25519.PrivateKey, conversationID string, req *SendMessageRequest) error {
	msg, err := MessagePayload(conversationID, *req)
	if err != nil {
		return err
	}
	req.Signature = crypto.Sign(priv, msg)
	return nil
}
