package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamshot_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// TeamAuthorizations records team policy decisions made at the HTTP layer by action and result (allowed|denied).
	TeamAuthorizations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamshot_team_authorizations_total",
			Help: "Total number of team authorization checks",
		},
		[]string{"action", "result"},
	)

	// Invitations counts invitation outcomes (sent|created|already_member|already_invited|email_failed|error|accepted|revoked|expired).
	Invitations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamshot_invitations_total",
			Help: "Total number of invitation outcomes",
		},
		[]string{"outcome"},
	)

	// CreditOperations counts credit ledger operations by result (success|failure).
	CreditOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamshot_credit_operations_total",
			Help: "Total number of credit ledger operations",
		},
		[]string{"operation", "result"},
	)

	// CreditsDeducted accumulates credits spent by members.
	CreditsDeducted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "teamshot_credits_deducted_total",
			Help: "Total number of credits deducted from member allocations",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "teamshot_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// MaintenanceRuns counts background job executions by outcome.
	MaintenanceRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamshot_maintenance_runs_total",
			Help: "Total number of maintenance job runs",
		},
		[]string{"job", "result"},
	)

	// MaintenanceDuration measures how long maintenance jobs take.
	MaintenanceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "teamshot_maintenance_duration_seconds",
			Help:    "Maintenance job duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)
)

// ObserveCreditOperation records the outcome of a credit ledger operation.
func ObserveCreditOperation(operation string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	CreditOperations.WithLabelValues(operation, result).Inc()
}
