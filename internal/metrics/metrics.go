package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors for the lockout and session-monitoring subsystem. Registered on
// the default registry and exposed through /metrics.
var (
	LockoutsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_lockouts_applied_total",
		Help: "Account lockouts applied, by lock type.",
	}, []string{"lock_type"})

	Unlocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_unlocks_total",
		Help: "Account unlocks, by method and outcome.",
	}, []string{"method", "outcome"})

	AlertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_alerts_raised_total",
		Help: "Security alerts raised by the detectors, by type and severity.",
	}, []string{"alert_type", "severity"})

	SessionsRevoked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_sessions_revoked_total",
		Help: "Sessions revoked by monitoring sweeps, by reason.",
	}, []string{"reason"})

	SweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sentinel_sweep_duration_seconds",
		Help:    "Duration of monitoring sweeps.",
		Buckets: prometheus.DefBuckets,
	}, []string{"sweep"})

	StatusChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_status_checks_total",
		Help: "Lockout status checks, by result.",
	}, []string{"result"})
)
