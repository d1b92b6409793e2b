// Package metrics defines the Prometheus counters recorded by the auth
// middleware, the rate limiter middleware and the login flow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Auth middleware outcomes.
const (
	OutcomeAuthenticated  = "authenticated"
	OutcomeUnauthorized   = "unauthorized"
	OutcomeInvalidToken   = "invalid_token"
	OutcomeSessionExpired = "session_expired"
	OutcomeStoreError     = "store_error"
)

// Rate limiter decisions.
const (
	DecisionAllowed  = "allowed"
	DecisionDenied   = "denied"
	DecisionFailOpen = "fail_open"
)

// Credential migration results.
const (
	MigrationSucceeded = "succeeded"
	MigrationFailed    = "failed"
)

// Metrics contains the service's custom Prometheus metrics.  A nil
// *Metrics is valid and records nothing, which keeps tests free of
// registry setup.
type Metrics struct {
	AuthRequests        *prometheus.CounterVec
	RateLimitDecisions  *prometheus.CounterVec
	CredentialMigration *prometheus.CounterVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AuthRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ddcb_auth_requests_total",
				Help: "Total number of authenticated-route requests by outcome",
			},
			[]string{"outcome"},
		),
		RateLimitDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ddcb_ratelimit_decisions_total",
				Help: "Total number of rate limiter decisions by result",
			},
			[]string{"decision"},
		),
		CredentialMigration: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ddcb_credential_migrations_total",
				Help: "Total number of legacy credential re-hashes by result",
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(m.AuthRequests)
	reg.MustRegister(m.RateLimitDecisions)
	reg.MustRegister(m.CredentialMigration)

	return m
}

// AuthOutcome increments the auth middleware counter.
func (m *Metrics) AuthOutcome(outcome string) {
	if m == nil {
		return
	}
	m.AuthRequests.WithLabelValues(outcome).Inc()
}

// RateLimitDecision increments the rate limiter counter.
func (m *Metrics) RateLimitDecision(decision string) {
	if m == nil {
		return
	}
	m.RateLimitDecisions.WithLabelValues(decision).Inc()
}

// Migration increments the credential migration counter.
func (m *Metrics) Migration(result string) {
	if m == nil {
		return
	}
	m.CredentialMigration.WithLabelValues(result).Inc()
}
