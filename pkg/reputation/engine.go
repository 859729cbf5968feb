// Package reputation turns verification, revocation and issuer events into a
// weighted trust score per credential, and analyzes score time series.
package reputation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/agentid-dev/agentid-core/pkg/metrics"
)

// Component weights of the trust score.
const (
	WeightVerification = 0.30
	WeightLongevity    = 0.25
	WeightIssuer       = 0.25
	WeightActivity     = 0.20
)

// Event deltas, in trust score points.
const (
	DeltaSuccess            = 1.0
	DeltaSuccessVerified    = 1.0
	DeltaSuccessEstablished = 1.0
	DeltaRevocation         = -10.0
	DeltaIssuerVerified     = 10.0

	establishedAge = 30 * 24 * time.Hour
	maxHistory     = 1000
)

// ErrNotFound is returned when no record exists for a credential.
var ErrNotFound = errors.New("reputation record not found")

// EventType names a reputation event.
type EventType string

// Event types.
const (
	EventInitial             EventType = "initial"
	EventVerificationSuccess EventType = "verification_success"
	EventVerificationFailure EventType = "verification_failure"
	EventCredentialRevoked   EventType = "credential_revoked"
	EventIssuerVerified      EventType = "issuer_verified"
)

// FailureKind grades a failed verification.
type FailureKind string

// Failure kinds, most to least severe.
const (
	FailureInvalidSignature FailureKind = "invalid_signature"
	FailureRevoked          FailureKind = "revoked"
	FailureExpired          FailureKind = "expired"
	FailureOther            FailureKind = "other"
)

func failureDelta(k FailureKind) float64 {
	switch k {
	case FailureInvalidSignature:
		return -5
	case FailureRevoked:
		return -4
	case FailureExpired:
		return -3
	default:
		return -2
	}
}

// Event is one input to the engine.
type Event struct {
	Type               EventType   `json:"type"`
	CredentialID       string      `json:"credential_id"`
	IssuerID           string      `json:"issuer_id,omitempty"`
	IssuerVerified     bool        `json:"issuer_verified,omitempty"`
	CredentialIssuedAt time.Time   `json:"credential_issued_at,omitempty"`
	Failure            FailureKind `json:"failure,omitempty"`
	At                 time.Time   `json:"at"`
}

// Components are the four sub-scores, each in [0,100].
type Components struct {
	Verification float64 `json:"verification"`
	Longevity    float64 `json:"longevity"`
	Issuer       float64 `json:"issuer"`
	Activity     float64 `json:"activity"`
}

// Score is the weighted composite, clamped to [0,100].
func (c Components) Score() float64 {
	return clamp(WeightVerification*c.Verification +
		WeightLongevity*c.Longevity +
		WeightIssuer*c.Issuer +
		WeightActivity*c.Activity)
}

// Snapshot is one point of a record's history.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Score     float64   `json:"score"`
	Event     EventType `json:"event"`
	Delta     float64   `json:"delta"`
}

// Record is the reputation state of one credential.
type Record struct {
	CredentialID       string     `json:"credential_id"`
	IssuerID           string     `json:"issuer_id"`
	Components         Components `json:"components"`
	TrustScore         float64    `json:"trust_score"`
	VerificationCount  int        `json:"verification_count"`
	SuccessCount       int        `json:"success_count"`
	FailureCount       int        `json:"failure_count"`
	Revoked            bool       `json:"revoked"`
	IssuerBonusApplied bool       `json:"issuer_bonus_applied"`
	LastVerifiedAt     *time.Time `json:"last_verified_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	History            []Snapshot `json:"history,omitempty"`
}

// SuccessRate is the share of successful verifications, or 0 with none.
func (r *Record) SuccessRate() float64 {
	if r.VerificationCount == 0 {
		return 0
	}
	return float64(r.SuccessCount) / float64(r.VerificationCount)
}

// Series returns the score history as a time series.
func (r *Record) Series() []Point {
	out := make([]Point, 0, len(r.History))
	for _, s := range r.History {
		out = append(out, Point{Timestamp: s.Timestamp, Value: s.Score})
	}
	return out
}

// Store persists reputation records.
type Store interface {
	Get(ctx context.Context, credentialID string) (*Record, error)
	Save(ctx context.Context, rec *Record) error
	ListByIssuer(ctx context.Context, issuerID string) ([]*Record, error)
}

// Engine applies events to records. Updates to one store are serialized.
type Engine struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
	mu     sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source for events without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an Engine over store. A nil store selects a MemoryStore.
func NewEngine(store Store, opts ...Option) *Engine {
	if store == nil {
		store = NewMemoryStore()
	}
	e := &Engine{store: store, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Get returns the record for a credential.
func (e *Engine) Get(ctx context.Context, credentialID string) (*Record, error) {
	return e.store.Get(ctx, credentialID)
}

// Apply folds ev into the credential's record, creating it on first sight.
// Issuer-verified events are fanned out to every record of ev.IssuerID.
func (e *Engine) Apply(ctx context.Context, ev Event) (*Record, error) {
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	if ev.Type == EventIssuerVerified {
		recs, err := e.ApplyIssuerVerified(ctx, ev.IssuerID, ev.At)
		if err != nil || len(recs) == 0 {
			return nil, err
		}
		return recs[0], nil
	}
	if ev.CredentialID == "" {
		return nil, errors.New("credential id is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.store.Get(ctx, ev.CredentialID)
	switch {
	case errors.Is(err, ErrNotFound):
		rec = newRecord(ev)
	case err != nil:
		return nil, fmt.Errorf("failed to load reputation: %w", err)
	}

	switch ev.Type {
	case EventVerificationSuccess:
		rec.VerificationCount++
		rec.SuccessCount++
		at := ev.At
		rec.LastVerifiedAt = &at
		delta := DeltaSuccess
		if ev.IssuerVerified {
			delta += DeltaSuccessVerified
		}
		if !ev.CredentialIssuedAt.IsZero() && ev.At.Sub(ev.CredentialIssuedAt) > establishedAge {
			delta += DeltaSuccessEstablished
		}
		rec.adjust(&rec.Components.Verification, WeightVerification, delta)
	case EventVerificationFailure:
		rec.VerificationCount++
		rec.FailureCount++
		at := ev.At
		rec.LastVerifiedAt = &at
		rec.adjust(&rec.Components.Verification, WeightVerification, failureDelta(ev.Failure))
	case EventCredentialRevoked:
		if rec.Revoked {
			return rec, nil
		}
		rec.Revoked = true
		rec.adjust(&rec.Components.Verification, WeightVerification, DeltaRevocation)
	default:
		return nil, fmt.Errorf("unknown reputation event %q", ev.Type)
	}

	if err := e.commit(ctx, rec, ev.Type, ev.At); err != nil {
		return nil, err
	}
	return rec, nil
}

// ApplyIssuerVerified grants the one-time issuer bonus to every record of
// issuerID and returns the records that changed.
func (e *Engine) ApplyIssuerVerified(ctx context.Context, issuerID string, at time.Time) ([]*Record, error) {
	if issuerID == "" {
		return nil, errors.New("issuer id is required")
	}
	if at.IsZero() {
		at = e.now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	recs, err := e.store.ListByIssuer(ctx, issuerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reputation: %w", err)
	}
	var changed []*Record
	for _, rec := range recs {
		if rec.IssuerBonusApplied {
			continue
		}
		rec.IssuerBonusApplied = true
		rec.adjust(&rec.Components.Issuer, WeightIssuer, DeltaIssuerVerified)
		if err := e.commit(ctx, rec, EventIssuerVerified, at); err != nil {
			return changed, err
		}
		changed = append(changed, rec)
	}
	return changed, nil
}

func (e *Engine) commit(ctx context.Context, rec *Record, typ EventType, at time.Time) error {
	prev := rec.TrustScore
	rec.TrustScore = rec.Components.Score()
	rec.UpdatedAt = at
	rec.History = append(rec.History, Snapshot{
		Timestamp: at,
		Score:     rec.TrustScore,
		Event:     typ,
		Delta:     rec.TrustScore - prev,
	})
	if len(rec.History) > maxHistory {
		rec.History = rec.History[len(rec.History)-maxHistory:]
	}
	if err := e.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("failed to save reputation: %w", err)
	}
	metrics.TrustScore.WithLabelValues(rec.CredentialID).Set(rec.TrustScore)
	e.logger.Debug("reputation updated",
		"credential_id", rec.CredentialID,
		"event", typ,
		"trust_score", rec.TrustScore)
	return nil
}

// adjust moves component so the composite score shifts by delta points.
func (r *Record) adjust(component *float64, weight, delta float64) {
	*component = clamp(*component + delta/weight)
}

func newRecord(ev Event) *Record {
	longevity := 0.0
	if !ev.CredentialIssuedAt.IsZero() {
		days := ev.At.Sub(ev.CredentialIssuedAt).Hours() / 24
		longevity = clamp(days / 365 * 100)
	}
	issuer := 50.0
	if ev.IssuerVerified {
		issuer = 100
	}
	rec := &Record{
		CredentialID: ev.CredentialID,
		IssuerID:     ev.IssuerID,
		Components: Components{
			Verification: 50,
			Longevity:    longevity,
			Issuer:       issuer,
			Activity:     50,
		},
		IssuerBonusApplied: ev.IssuerVerified,
		CreatedAt:          ev.At,
		UpdatedAt:          ev.At,
	}
	rec.TrustScore = rec.Components.Score()
	rec.History = []Snapshot{{Timestamp: ev.At, Score: rec.TrustScore, Event: EventInitial}}
	return rec
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
