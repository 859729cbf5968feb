package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentid-dev/agentid-core/pkg/credential"
	"github.com/agentid-dev/agentid-core/pkg/metrics"
	"github.com/agentid-dev/agentid-core/pkg/notify"
)

// Messaging defaults.
const (
	DefaultMessageWindow   = 5 * time.Minute
	DefaultMaxMessageBytes = 64 << 10

	DefaultConversationPage = 20
	MaxConversationPage     = 100
	DefaultMessagePage      = 50
	MaxMessagePage          = 500
)

// StartConversationRequest opens a conversation from initiator to recipient.
type StartConversationRequest struct {
	InitiatorCredentialID string `json:"initiator_credential_id"`
	RecipientCredentialID string `json:"recipient_credential_id"`
	Subject               string `json:"subject,omitempty"`
	Encrypted             bool   `json:"encrypted,omitempty"`
}

// SendMessageRequest is a sender's signed message. The signature covers
// MessagePayload with the sender issuer's key.
type SendMessageRequest struct {
	SenderCredentialID string          `json:"sender_credential_id"`
	MessageType        MessageType     `json:"message_type,omitempty"`
	Content            json.RawMessage `json:"content"`
	Signature          string          `json:"signature"`
	SignatureTimestamp int64           `json:"signature_timestamp"`
	Nonce              string          `json:"nonce"`
	ReplyToID          string          `json:"reply_to_id,omitempty"`
}

func (r SendMessageRequest) messageType() MessageType {
	if r.MessageType == "" {
		return MessageText
	}
	return r.MessageType
}

// CloseConversationRequest ends a conversation as closed or blocked.
type CloseConversationRequest struct {
	CredentialID string             `json:"credential_id"`
	Status       ConversationStatus `json:"status,omitempty"`
}

// StartConversation opens an active conversation. owner must own the
// initiator, and both credentials must be active.
func (s *Service) StartConversation(ctx context.Context, owner string, req StartConversationRequest) (*Conversation, error) {
	switch {
	case req.InitiatorCredentialID == "" || req.RecipientCredentialID == "":
		return nil, newError(KindValidation, "initiator_credential_id and recipient_credential_id are required")
	case req.InitiatorCredentialID == req.RecipientCredentialID:
		return nil, newError(KindValidation, "a credential cannot start a conversation with itself")
	}

	now := s.cfg.Now().UTC()
	initiator, err := s.credential(ctx, req.InitiatorCredentialID, "initiator")
	if err != nil {
		return nil, err
	}
	if !owns(owner, initiator) {
		return nil, newError(KindForbidden, "caller does not own the initiator credential")
	}
	if !initiator.IsActiveAt(now) {
		return nil, newError(KindValidation, "initiator credential is not active")
	}
	recipient, err := s.credential(ctx, req.RecipientCredentialID, "recipient")
	if err != nil {
		return nil, err
	}
	if !recipient.IsActiveAt(now) {
		return nil, newError(KindValidation, "recipient credential is not active")
	}

	c := &Conversation{
		ID:                    "conv_" + uuid.NewString(),
		InitiatorCredentialID: req.InitiatorCredentialID,
		RecipientCredentialID: req.RecipientCredentialID,
		Subject:               req.Subject,
		Status:                ConversationActive,
		Encrypted:             req.Encrypted,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.cfg.Conversations.InsertConversation(ctx, c); err != nil {
		return nil, s.internal("insert conversation", err)
	}
	s.cfg.Logger.Info("conversation started",
		"conversation_id", c.ID,
		"initiator_credential_id", c.InitiatorCredentialID,
		"recipient_credential_id", c.RecipientCredentialID)
	s.emit(notify.EventConversationStarted, c)
	return c, nil
}

// GetConversation returns one conversation.
func (s *Service) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	c, err := s.cfg.Conversations.GetConversation(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, newError(KindNotFound, fmt.Sprintf("conversation %s not found", id))
		}
		return nil, s.internal("get conversation", err)
	}
	return c, nil
}

// ListConversations returns one page of matching conversations and the
// total number of matches.
func (s *Service) ListConversations(ctx context.Context, f ConversationFilter) ([]*Conversation, int, error) {
	switch {
	case f.Status != "" && !f.Status.Valid():
		return nil, 0, newError(KindValidation, fmt.Sprintf("unknown status %q", f.Status))
	case f.Limit < 0 || f.Offset < 0:
		return nil, 0, newError(KindValidation, "limit and offset must not be negative")
	}
	f.Limit = clampPage(f.Limit, DefaultConversationPage, MaxConversationPage)
	out, total, err := s.cfg.Conversations.ListConversations(ctx, f)
	if err != nil {
		return nil, 0, s.internal("list conversations", err)
	}
	return out, total, nil
}

// CloseConversation moves an active conversation to closed, or to blocked
// when requested. owner must own the participating credential.
func (s *Service) CloseConversation(ctx context.Context, owner, id string, req CloseConversationRequest) (*Conversation, error) {
	to := req.Status
	if to == "" {
		to = ConversationClosed
	}
	if to != ConversationClosed && to != ConversationBlocked {
		return nil, newError(KindValidation, fmt.Sprintf("cannot set conversation status to %q", req.Status))
	}
	c, _, err := s.participantAction(ctx, owner, id, req.CredentialID)
	if err != nil {
		return nil, err
	}
	if c.Status != ConversationActive {
		return nil, newError(KindStateConflict, fmt.Sprintf("conversation is already %s", c.Status))
	}

	updated, err := s.cfg.Conversations.SetConversationStatus(ctx, id, ConversationActive, to, s.cfg.Now().UTC())
	if err != nil {
		if errors.Is(err, ErrStatusConflict) || errors.Is(err, ErrNotFound) {
			return nil, newError(KindStateConflict, "conversation is no longer active")
		}
		return nil, s.internal("close conversation", err)
	}
	s.cfg.Logger.Info("conversation closed",
		"conversation_id", id,
		"status", updated.Status,
		"credential_id", req.CredentialID)
	s.emit(notify.EventConversationClosed, updated)
	return updated, nil
}

// SendMessage appends a signed message to an active conversation. The
// sender must be a participant owned by owner and active, the timestamp must
// be within MessageWindow of now, and the nonce must be unused in the
// conversation.
func (s *Service) SendMessage(ctx context.Context, owner, conversationID string, req SendMessageRequest) (*Message, error) {
	if err := s.validateMessage(req); err != nil {
		return nil, err
	}
	c, sender, err := s.participantAction(ctx, owner, conversationID, req.SenderCredentialID)
	if err != nil {
		return nil, err
	}
	if c.Status != ConversationActive {
		return nil, newError(KindStateConflict, fmt.Sprintf("conversation is %s", c.Status))
	}

	now := s.cfg.Now().UTC()
	if !sender.IsActiveAt(now) {
		return nil, newError(KindValidation, "sender credential is not active")
	}
	skew := now.Sub(time.Unix(req.SignatureTimestamp, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > s.cfg.MessageWindow {
		return nil, newError(KindValidation, "signature_timestamp is outside the accepted window")
	}
	if req.ReplyToID != "" {
		ref, err := s.cfg.Conversations.GetMessage(ctx, req.ReplyToID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, s.internal("get message", err)
		}
		if ref == nil || ref.ConversationID != conversationID {
			return nil, newError(KindValidation, "reply_to_id is not a message in this conversation")
		}
	}

	msg, err := MessagePayload(conversationID, req)
	if err != nil {
		return nil, wrapError(KindValidation, "message cannot be canonicalized", err)
	}
	if err := s.verifySignature(ctx, sender, msg, req.Signature, "message"); err != nil {
		return nil, err
	}

	stored, err := s.cfg.Conversations.AppendMessage(ctx, &Message{
		ID:                 "msg_" + uuid.NewString(),
		ConversationID:     conversationID,
		SenderCredentialID: req.SenderCredentialID,
		MessageType:        req.messageType(),
		Content:            req.Content,
		Signature:          req.Signature,
		SignatureTimestamp: req.SignatureTimestamp,
		Nonce:              req.Nonce,
		ReplyToID:          req.ReplyToID,
		CreatedAt:          now,
	})
	if err != nil {
		if k := KindOf(err); k == KindNotFound || k == KindStateConflict {
			return nil, err
		}
		return nil, s.internal("append message", err)
	}

	metrics.A2AMessagesTotal.WithLabelValues(string(stored.MessageType)).Inc()
	s.emit(notify.EventMessageSent, map[string]any{
		"conversation_id":      conversationID,
		"message_id":           stored.ID,
		"sender_credential_id": stored.SenderCredentialID,
		"message_type":         stored.MessageType,
	})
	return stored, nil
}

// GetMessages returns one page of a conversation's messages, oldest first.
// owner must own one of the participants.
func (s *Service) GetMessages(ctx context.Context, owner, conversationID string, f MessageFilter) ([]*Message, error) {
	if f.Limit < 0 || f.Offset < 0 {
		return nil, newError(KindValidation, "limit and offset must not be negative")
	}
	c, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !s.ownsEither(ctx, owner, c) {
		return nil, newError(KindForbidden, "caller does not own a participant of this conversation")
	}

	f.Limit = clampPage(f.Limit, DefaultMessagePage, MaxMessagePage)
	out, err := s.cfg.Conversations.ListMessages(ctx, conversationID, f)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, newError(KindValidation, "after is not a message in this conversation")
		}
		return nil, s.internal("list messages", err)
	}
	return out, nil
}

func (s *Service) validateMessage(req SendMessageRequest) error {
	switch {
	case req.SenderCredentialID == "":
		return newError(KindValidation, "sender_credential_id is required")
	case req.Signature == "":
		return newError(KindValidation, "signature is required")
	case len(req.Nonce) < 8 || len(req.Nonce) > 128:
		return newError(KindValidation, "nonce must be 8 to 128 characters")
	case req.SignatureTimestamp <= 0:
		return newError(KindValidation, "signature_timestamp is required")
	case !req.messageType().Valid():
		return newError(KindValidation, fmt.Sprintf("unknown message_type %q", req.MessageType))
	case len(req.Content) > s.cfg.MaxMessageBytes:
		return newError(KindValidation, fmt.Sprintf("content exceeds %d bytes", s.cfg.MaxMessageBytes))
	}
	content := bytes.TrimSpace(req.Content)
	if len(content) == 0 || content[0] != '{' || !json.Valid(content) {
		return newError(KindValidation, "content must be a JSON object")
	}
	return nil
}

// participantAction loads a conversation and checks that credentialID takes
// part in it and that owner owns that credential.
func (s *Service) participantAction(ctx context.Context, owner, id, credentialID string) (*Conversation, *credential.Credential, error) {
	if id == "" || credentialID == "" {
		return nil, nil, newError(KindValidation, "conversation id and credential id are required")
	}
	c, err := s.GetConversation(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !c.Participant(credentialID) {
		return nil, nil, newError(KindForbidden, "credential is not a participant of this conversation")
	}
	cred, err := s.credential(ctx, credentialID, "participant")
	if err != nil {
		return nil, nil, err
	}
	if !owns(owner, cred) {
		return nil, nil, newError(KindForbidden, "caller does not own the participant credential")
	}
	return c, cred, nil
}

func (s *Service) ownsEither(ctx context.Context, owner string, c *Conversation) bool {
	for _, id := range []string{c.InitiatorCredentialID, c.RecipientCredentialID} {
		cred, err := s.credential(ctx, id, "participant")
		if err == nil && owns(owner, cred) {
			return true
		}
	}
	return false
}

func clampPage(limit, def, maxLimit int) int {
	switch {
	case limit == 0:
		return def
	case limit > maxLimit:
		return maxLimit
	}
	return limit
}
