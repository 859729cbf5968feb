package permission

import (
	"context"
	"time"

	"github.com/agentid-dev/agentid-core/pkg/metrics"
	"github.com/agentid-dev/agentid-core/pkg/ratelimit"
)

// ReasonNotPermitted is the denial reason when no grant matches.
const ReasonNotPermitted = "action not permitted"

// Request is a single permission question.
type Request struct {
	CredentialID string  `json:"credential_id"`
	Action       string  `json:"action"`
	Resource     string  `json:"resource,omitempty"`
	Context      Context `json:"context,omitempty"`
}

// RateLimitInfo reports the remaining budget after a rate-limited check.
type RateLimitInfo struct {
	MinuteRemaining *int `json:"minute_remaining,omitempty"`
	DayRemaining    *int `json:"day_remaining,omitempty"`
}

// Result is the evaluator's answer.
type Result struct {
	Granted           bool           `json:"granted"`
	Reason            string         `json:"reason,omitempty"`
	ConditionsApplied []string       `json:"conditions_applied"`
	RateLimit         *RateLimitInfo `json:"rate_limit,omitempty"`
	Grant             *Grant         `json:"matched_grant,omitempty"`
}

// Evaluator decides permission requests against normalized grants.
type Evaluator struct {
	limiter *ratelimit.Limiter
	now     func() time.Time
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithClock overrides the time source used when the request context has no time.
func WithClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) { e.now = now }
}

// NewEvaluator creates an Evaluator. A nil limiter selects an in-memory one.
func NewEvaluator(limiter *ratelimit.Limiter, opts ...EvaluatorOption) *Evaluator {
	if limiter == nil {
		limiter = ratelimit.NewLimiter(nil)
	}
	e := &Evaluator{limiter: limiter, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Check finds the first grant covering the request and enforces its
// conditions. The rate limiter is consulted last, only when the grant and
// every other condition pass. The error is non-nil only when the rate limit
// store fails.
func (e *Evaluator) Check(ctx context.Context, req Request, grants []Grant) (Result, error) {
	g := Match(grants, req.Action, req.Resource, req.Context.Domain)
	if g == nil {
		metrics.ObservePermission(false)
		return Result{Granted: false, Reason: ReasonNotPermitted, ConditionsApplied: []string{}}, nil
	}

	res, err := e.Enforce(ctx, req.CredentialID, req.Action, g.Conditions, req.Context)
	if err != nil {
		return Result{}, err
	}
	res.Grant = g
	metrics.ObservePermission(res.Granted)
	return res, nil
}

// Enforce evaluates conditions for subject performing action, including the
// rate limits keyed by (subject, action).
func (e *Evaluator) Enforce(ctx context.Context, subject, action string, c *Conditions, pctx Context) (Result, error) {
	applied, reason, ok := EvaluateConditions(c, pctx, e.now())
	if !ok {
		return Result{Granted: false, Reason: reason, ConditionsApplied: applied}, nil
	}
	if c == nil || (c.MaxRequestsPerMinute <= 0 && c.MaxRequestsPerDay <= 0) {
		return Result{Granted: true, ConditionsApplied: applied}, nil
	}

	if c.MaxRequestsPerMinute > 0 {
		applied = append(applied, CondMaxRequestsPerMinute)
	}
	if c.MaxRequestsPerDay > 0 {
		applied = append(applied, CondMaxRequestsPerDay)
	}
	d, err := e.limiter.CheckAndConsume(ctx, subject, action, ratelimit.Limits{
		PerMinute: c.MaxRequestsPerMinute,
		PerDay:    c.MaxRequestsPerDay,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{
		Granted:           d.Allowed,
		Reason:            d.Reason,
		ConditionsApplied: applied,
		RateLimit:         &RateLimitInfo{MinuteRemaining: d.MinuteRemaining, DayRemaining: d.DayRemaining},
	}, nil
}
