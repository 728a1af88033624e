package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gate outcomes
const (
	OutcomePass       = "pass"
	OutcomeAuthorized = "authorized"
	OutcomeLogin      = "login_redirect"
	OutcomeSetup      = "setup_redirect"
	OutcomeSuspended  = "suspended_redirect"
	OutcomeFault      = "fault"
)

var (
	// GateDecisions counts access gate decisions by outcome
	GateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "usg_registry",
		Subsystem: "gate",
		Name:      "decisions_total",
		Help:      "Access gate decisions by outcome.",
	}, []string{"outcome"})

	// ScopeViolations counts writes that targeted records outside the bound tenant
	ScopeViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "usg_registry",
		Subsystem: "patients",
		Name:      "scope_violations_total",
		Help:      "Update or delete calls that referenced records outside the caller's tenant.",
	}, []string{"operation"})

	// IntegrityViolations counts profile data faults found while resolving tenants
	IntegrityViolations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "usg_registry",
		Subsystem: "profiles",
		Name:      "integrity_violations_total",
		Help:      "Users found with more than one active profile or a dangling tenant reference.",
	})

	// StoreDuration tracks tenant-scoped store call latency
	StoreDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "usg_registry",
		Subsystem: "patients",
		Name:      "store_duration_seconds",
		Help:      "Latency of tenant-scoped store calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "status"})
)

// ObserveStore records a store call that started at start
func ObserveStore(operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	StoreDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}
