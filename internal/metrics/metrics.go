// Package metrics defines the Prometheus metrics of the swap rules service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Service Operations ─────────────────────────────────────────────────────

// Operations counts service operations by name and result code.
// Successful calls record code "OK".
var Operations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "billix",
	Subsystem: "swaprules",
	Name:      "operations_total",
	Help:      "Total service operations by operation and result code.",
}, []string{"operation", "code"})

// OperationLatency tracks service operation latency.
var OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "billix",
	Subsystem: "swaprules",
	Name:      "operation_duration_ms",
	Help:      "Service operation latency in milliseconds.",
	Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
}, []string{"operation"})

// ─── Lifecycle ──────────────────────────────────────────────────────────────

// SwapTransitions counts committed swap status changes.
var SwapTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "billix",
	Subsystem: "swap",
	Name:      "transitions_total",
	Help:      "Total committed swap transitions.",
}, []string{"from", "to"})

// PolicyDecisions counts proposal policy outcomes.
var PolicyDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "billix",
	Subsystem: "policy",
	Name:      "decisions_total",
	Help:      "Total proposal policy decisions by outcome.",
}, []string{"outcome"})

// PointsPosted sums ledger deltas by reason.
var PointsPosted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "billix",
	Subsystem: "points",
	Name:      "entries_total",
	Help:      "Total ledger entries posted by reason.",
}, []string{"reason"})

// ─── Deadline Sweeps ────────────────────────────────────────────────────────

// SweepActions counts actions taken by deadline sweeps.
var SweepActions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "billix",
	Subsystem: "sweep",
	Name:      "actions_total",
	Help:      "Total deadline sweep actions by kind.",
}, []string{"action"})

// OverdueReviews is the number of proofs past their review deadline at the
// last sweep.
var OverdueReviews = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "billix",
	Subsystem: "sweep",
	Name:      "overdue_reviews",
	Help:      "Proofs past their review deadline at the last sweep.",
})

// ─── HTTP ───────────────────────────────────────────────────────────────────

// HTTPRequests counts HTTP requests by route pattern and status.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "billix",
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "Total HTTP requests by route and status.",
}, []string{"route", "status"})

// ObserveOperation records one service call. code is "" on success.
func ObserveOperation(operation, code string, start time.Time) {
	if code == "" {
		code = "OK"
	}
	Operations.WithLabelValues(operation, code).Inc()
	OperationLatency.WithLabelValues(operation).Observe(float64(time.Since(start).Microseconds()) / 1000)
}
