// Package metrics provides Prometheus metrics for flarewatch.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "flarewatch"
)

// Detection metrics
var (
	// EventsIngestedTotal counts events added to the detection window.
	EventsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "events_ingested_total",
			Help:      "Total events added to the detection window",
		},
		[]string{"type"},
	)

	// EvaluationCyclesTotal counts detection sweeps over the rule set.
	EvaluationCyclesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "evaluation_cycles_total",
			Help:      "Total rule evaluation cycles",
		},
	)

	// RuleErrorsTotal counts rule evaluations that panicked or errored.
	RuleErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "rule_errors_total",
			Help:      "Total rule evaluation errors",
		},
		[]string{"rule"},
	)

	// IncidentsDetectedTotal counts detected incidents by type and severity.
	IncidentsDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "incidents_detected_total",
			Help:      "Total incidents detected",
		},
		[]string{"type", "severity"},
	)

	// IncidentsSuppressedTotal counts matches suppressed by cooldown.
	IncidentsSuppressedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "incidents_suppressed_total",
			Help:      "Total incident matches suppressed by rule cooldowns",
		},
	)
)

// Lifecycle metrics
var (
	// IncidentsActive tracks incidents not yet resolved or closed.
	IncidentsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "incidents_active",
			Help:      "Incidents currently in-flight",
		},
	)

	// IncidentsClosedTotal counts incidents that reached the terminal state.
	IncidentsClosedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "incidents_closed_total",
			Help:      "Total incidents closed with a post-mortem",
		},
		[]string{"type", "severity"},
	)

	// StageTransitionsTotal counts lifecycle transitions by resulting status.
	StageTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "stage_transitions_total",
			Help:      "Total lifecycle stage transitions",
		},
		[]string{"status"},
	)
)

// Remediation metrics
var (
	// RemediationsTotal counts executed remediation actions by outcome.
	RemediationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "responder",
			Name:      "remediations_total",
			Help:      "Total remediation attempts",
		},
		[]string{"action", "state"}, // pending, succeeded, failed, abandoned
	)

	// ApprovalsPending tracks actions waiting for sign-off.
	ApprovalsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "responder",
			Name:      "approvals_pending",
			Help:      "Remediation actions awaiting approval",
		},
	)
)

// Notification metrics
var (
	// NotificationsTotal counts channel deliveries by result.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "notifications_total",
			Help:      "Total notification deliveries",
		},
		[]string{"channel", "result"}, // ok, error, rate_limited
	)
)

// HTTP metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)
)

// Storage metrics
var (
	// StorageErrors counts storage operation errors.
	StorageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "errors_total",
			Help:      "Total storage operation errors",
		},
		[]string{"operation"},
	)
)

// Info metric
var (
	// BuildInfo exposes build information.
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit", "build_time"},
	)
)

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, commit, buildTime string) {
	BuildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}
