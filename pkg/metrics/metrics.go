// Package metrics holds the Prometheus collectors exported by agentid-core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// VerificationsTotal counts credential verifications by outcome and reason code.
	VerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentid_verifications_total",
			Help: "Total number of credential verifications",
		},
		[]string{"result", "code"},
	)

	// VerificationDuration observes verification latency.
	VerificationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentid_verification_duration_seconds",
			Help:    "Credential verification latency",
			Buckets: prometheus.DefBuckets,
		},
	)

	// PermissionDecisionsTotal counts permission evaluator decisions.
	PermissionDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentid_permission_decisions_total",
			Help: "Total number of permission checks by decision",
		},
		[]string{"decision"},
	)

	// RateLimitDenialsTotal counts requests rejected by the rate limiter.
	RateLimitDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentid_rate_limit_denials_total",
			Help: "Total number of rate limited requests by window",
		},
		[]string{"window"},
	)

	// A2ATransitionsTotal counts authorization state transitions.
	A2ATransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentid_a2a_transitions_total",
			Help: "Total number of A2A authorization status transitions",
		},
		[]string{"status"},
	)

	// A2AMessagesTotal counts accepted A2A messages by type.
	A2AMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentid_a2a_messages_total",
			Help: "Total number of A2A messages accepted",
		},
		[]string{"type"},
	)

	// TrustScore tracks the latest trust score per credential.
	TrustScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentid_trust_score",
			Help: "Current trust score of a credential",
		},
		[]string{"credential_id"},
	)

	// NotificationsTotal counts notification deliveries by sink and outcome.
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentid_notifications_total",
			Help: "Total number of notifications emitted",
		},
		[]string{"sink", "result"},
	)
)

func init() {
	prometheus.MustRegister(VerificationsTotal)
	prometheus.MustRegister(VerificationDuration)
	prometheus.MustRegister(PermissionDecisionsTotal)
	prometheus.MustRegister(RateLimitDenialsTotal)
	prometheus.MustRegister(A2ATransitionsTotal)
	prometheus.MustRegister(A2AMessagesTotal)
	prometheus.MustRegister(TrustScore)
	prometheus.MustRegister(NotificationsTotal)
}

// ObserveVerification records one verification outcome.
func ObserveVerification(valid bool, code string, elapsed time.Duration) {
	result := "invalid"
	if valid {
		result = "valid"
		code = "OK"
	}
	VerificationsTotal.WithLabelValues(result, code).Inc()
	VerificationDuration.Observe(elapsed.Seconds())
}

// ObservePermission records a permission decision.
func ObservePermission(granted bool) {
	if granted {
		PermissionDecisionsTotal.WithLabelValues("granted").Inc()
		return
	}
	PermissionDecisionsTotal.WithLabelValues("denied").Inc()
}
