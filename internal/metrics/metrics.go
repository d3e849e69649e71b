// Package metrics provides Prometheus instrumentation for TrustScore.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustscore",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route pattern, and status code.",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration observes request latency by method and route.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trustscore",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// IngestEventsTotal counts ingestion outcomes (stored, duplicate, rejected).
	IngestEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustscore",
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Chain events processed by outcome.",
		},
		[]string{"outcome"},
	)

	// FlagsCreatedTotal counts persisted fraud flags by type.
	FlagsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustscore",
			Subsystem: "fraud",
			Name:      "flags_created_total",
			Help:      "Fraud flags persisted by flag type.",
		},
		[]string{"flag_type"},
	)

	// DetectorFailuresTotal counts detector failures by detector.
	DetectorFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustscore",
			Subsystem: "fraud",
			Name:      "detector_failures_total",
			Help:      "Detector runs that failed or panicked.",
		},
		[]string{"detector"},
	)

	// RuleSetDuration observes rule set evaluation latency.
	RuleSetDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trustscore",
			Subsystem: "fraud",
			Name:      "rule_set_duration_seconds",
			Help:      "Rule set evaluation duration in seconds.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"rule_set"},
	)

	// ReputationCalculationsTotal counts snapshot recomputations by role.
	ReputationCalculationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustscore",
			Subsystem: "reputation",
			Name:      "calculations_total",
			Help:      "Reputation snapshots recomputed by role.",
		},
		[]string{"role"},
	)

	// SweepDuration observes scheduler sweep latency by task.
	SweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trustscore",
			Subsystem: "scheduler",
			Name:      "sweep_duration_seconds",
			Help:      "Full-population sweep duration in seconds.",
			Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 300, 900},
		},
		[]string{"task"},
	)

	// SweepFailuresTotal counts per-address failures within sweeps.
	SweepFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustscore",
			Subsystem: "scheduler",
			Name:      "address_failures_total",
			Help:      "Per-address sweep failures by task.",
		},
		[]string{"task"},
	)

	// NotificationsTotal counts flag notifications by sink and result.
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustscore",
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Flag notifications by sink and result.",
		},
		[]string{"sink", "result"},
	)

	// MeteredRequestsTotal counts serving-layer access decisions.
	MeteredRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustscore",
			Subsystem: "metering",
			Name:      "requests_total",
			Help:      "Gated requests by decision (paid, free, rejected).",
		},
		[]string{"decision"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		IngestEventsTotal,
		FlagsCreatedTotal,
		DetectorFailuresTotal,
		RuleSetDuration,
		ReputationCalculationsTotal,
		SweepDuration,
		SweepFailuresTotal,
		NotificationsTotal,
		MeteredRequestsTotal,
	)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
