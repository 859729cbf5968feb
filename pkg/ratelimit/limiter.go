// Package ratelimit enforces per-credential, per-action request budgets over
// a one minute and a one day window.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentid-dev/agentid-core/pkg/metrics"
)

const (
	// MinuteWindow is the length of the short window.
	MinuteWindow = time.Minute
	// DayWindow is the length of the long window.
	DayWindow = 24 * time.Hour
)

// Limits are the configured budgets. Zero means unlimited.
type Limits struct {
	PerMinute int `json:"per_minute,omitempty"`
	PerDay    int `json:"per_day,omitempty"`
}

// IsZero reports whether no limit is configured.
func (l Limits) IsZero() bool {
	return l.PerMinute <= 0 && l.PerDay <= 0
}

// Decision is the outcome of one CheckAndConsume call. Remaining counts are
// only set for configured windows.
type Decision struct {
	Allowed         bool   `json:"allowed"`
	Reason          string `json:"reason,omitempty"`
	MinuteRemaining *int   `json:"minute_remaining,omitempty"`
	DayRemaining    *int   `json:"day_remaining,omitempty"`
}

// Store performs the check-reset-increment sequence for one key atomically.
type Store interface {
	Consume(ctx context.Context, key string, limits Limits, now time.Time) (Decision, error)
}

// Limiter is the entry point used by the permission evaluator.
type Limiter struct {
	store Store
	now   func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter creates a Limiter backed by store. A nil store selects a MemoryStore.
func NewLimiter(store Store, opts ...Option) *Limiter {
	if store == nil {
		store = NewMemoryStore(MemoryStoreConfig{})
	}
	l := &Limiter{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Key builds the counter key for a credential and action.
func Key(credentialID, action string) string {
	return credentialID + "|" + action
}

// CheckAndConsume consumes one request from the (credentialID, action) budget.
// A denied request consumes nothing.
func (l *Limiter) CheckAndConsume(ctx context.Context, credentialID, action string, limits Limits) (Decision, error) {
	if credentialID == "" {
		return Decision{}, errors.New("credential id is required")
	}
	if limits.IsZero() {
		return Decision{Allowed: true}, nil
	}
	d, err := l.store.Consume(ctx, Key(credentialID, action), limits, l.now())
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit store: %w", err)
	}
	return d, nil
}

type window int

const (
	windowNone window = iota
	windowMinute
	windowDay
)

// counters is the per-key state shared by the store implementations.
type counters struct {
	MinuteStart time.Time
	MinuteCount int
	DayStart    time.Time
	DayCount    int
}

// consume applies one request to c at now and returns the decision.
func (c *counters) consume(limits Limits, now time.Time) Decision {
	if c.MinuteStart.IsZero() || !now.Before(c.MinuteStart.Add(MinuteWindow)) {
		c.MinuteStart = now
		c.MinuteCount = 0
	}
	if c.DayStart.IsZero() || !now.Before(c.DayStart.Add(DayWindow)) {
		c.DayStart = now
		c.DayCount = 0
	}

	if limits.PerMinute > 0 && c.MinuteCount+1 > limits.PerMinute {
		return decide(limits, c.MinuteCount, c.DayCount, windowMinute)
	}
	if limits.PerDay > 0 && c.DayCount+1 > limits.PerDay {
		return decide(limits, c.MinuteCount, c.DayCount, windowDay)
	}

	c.MinuteCount++
	c.DayCount++
	return decide(limits, c.MinuteCount, c.DayCount, windowNone)
}

func decide(limits Limits, minuteCount, dayCount int, denied window) Decision {
	d := Decision{Allowed: denied == windowNone}
	if limits.PerMinute > 0 {
		rem := remaining(limits.PerMinute, minuteCount)
		if denied == windowMinute {
			rem = 0
		}
		d.MinuteRemaining = &rem
	}
	if limits.PerDay > 0 {
		rem := remaining(limits.PerDay, dayCount)
		if denied == windowDay {
			rem = 0
		}
		d.DayRemaining = &rem
	}
	switch denied {
	case windowMinute:
		d.Reason = fmt.Sprintf("rate limit exceeded: max %d requests per minute", limits.PerMinute)
		metrics.RateLimitDenialsTotal.WithLabelValues("minute").Inc()
	case windowDay:
		d.Reason = fmt.Sprintf("rate limit exceeded: max %d requests per day", limits.PerDay)
		metrics.RateLimitDenialsTotal.WithLabelValues("day").Inc()
	}
	return d
}

func remaining(limit, used int) int {
	if used >= limit {
		return 0
	}
	return limit - used
}
