package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Login outcomes.
const (
	OutcomeSuccess            = "success"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeBanned             = "banned"
	OutcomeNotAdmin           = "not_admin"
	OutcomeError              = "error"
)

// Guard decisions.
const (
	DecisionPublic       = "public"
	DecisionAllowed      = "allowed"
	DecisionNoToken      = "no_token"
	DecisionRevoked      = "revoked"
	DecisionInvalidToken = "invalid_token"
	DecisionUserRejected = "user_rejected"
	DecisionForbidden    = "forbidden"
	DecisionError        = "error"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Session metrics
	LoginAttemptsTotal  *prometheus.CounterVec
	GuardDecisionsTotal *prometheus.CounterVec
	RevocationsTotal    prometheus.Counter

	// Sweeper metrics
	PurgeRunsTotal    *prometheus.CounterVec
	PurgedTokensTotal prometheus.Counter
	PurgeDuration     prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "auth_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		LoginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_login_attempts_total",
				Help: "Login attempts by entry point and outcome",
			},
			[]string{"kind", "outcome"},
		),
		GuardDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_guard_decisions_total",
				Help: "Access guard decisions by outcome",
			},
			[]string{"decision"},
		),
		RevocationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "auth_token_revocations_total",
				Help: "Tokens revoked through logout",
			},
		),

		PurgeRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_revocation_purge_runs_total",
				Help: "Revocation purge runs by status",
			},
			[]string{"status"},
		),
		PurgedTokensTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "auth_revocation_purged_total",
				Help: "Expired revocation entries removed",
			},
		),
		PurgeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "auth_revocation_purge_duration_seconds",
				Help:    "Revocation purge duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginAttemptsTotal,
		m.GuardDecisionsTotal,
		m.RevocationsTotal,
		m.PurgeRunsTotal,
		m.PurgedTokensTotal,
		m.PurgeDuration,
	)

	return m
}

// Handler exposes the registry in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
