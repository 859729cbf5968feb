// Package notify delivers lifecycle events (credential revocations, A2A
// transitions) to external listeners. Delivery is best effort.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentid-dev/agentid-core/pkg/metrics"
)

// Event types emitted by agentid-core.
const (
	EventCredentialRevoked     = "credential.revoked"
	EventCredentialRenewed     = "credential.renewed"
	EventIssuerVerified        = "issuer.verified"
	EventAuthorizationCreated  = "a2a.authorization.created"
	EventAuthorizationApproved = "a2a.authorization.approved"
	EventAuthorizationDenied   = "a2a.authorization.denied"
	EventAuthorizationRevoked  = "a2a.authorization.revoked"
	EventAuthorizationExpired  = "a2a.authorization.expired"
	EventConversationStarted   = "a2a.conversation.started"
	EventConversationClosed    = "a2a.conversation.closed"
	EventMessageSent           = "a2a.message.sent"
)

// Event is a notification envelope.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(typ string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// Sink receives events.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// Nop discards events.
type Nop struct{}

// Emit implements Sink.
func (Nop) Emit(context.Context, Event) error { return nil }

// LogSink writes events to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

// Emit implements Sink.
func (s LogSink) Emit(ctx context.Context, ev Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification", "event_id", ev.ID, "type", ev.Type, "payload", ev.Payload)
	metrics.NotificationsTotal.WithLabelValues("log", "ok").Inc()
	return nil
}

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

// Emit implements Sink.
func (m Multi) Emit(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
