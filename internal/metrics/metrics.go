package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ResidentUsers tracks the number of users whose state is held in memory
	ResidentUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gamestate_resident_users",
			Help: "Number of users whose full state is resident in memory",
		},
	)

	// DirtyUsers tracks the number of users with unflushed mutations
	DirtyUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gamestate_dirty_users",
			Help: "Number of resident users with mutations not yet confirmed in the store",
		},
	)

	// FlushesTotal counts flush attempts by result (success, noop, error)
	FlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamestate_flushes_total",
			Help: "Total number of per-user flush attempts",
		},
		[]string{"result"},
	)

	// FlushDuration tracks how long non-empty flushes take in seconds
	FlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gamestate_flush_duration_seconds",
			Help:    "Duration of per-user flushes that issued store calls",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	// StoreCallsTotal counts backing store calls by operation and status
	StoreCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamestate_store_calls_total",
			Help: "Total number of backing store calls issued by the flush orchestrator",
		},
		[]string{"op", "status"},
	)

	// SessionEventsTotal counts login, logout and sweep outcomes
	SessionEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamestate_session_events_total",
			Help: "Total number of session lifecycle events by event and result",
		},
		[]string{"event", "result"},
	)

	// SnapshotWritesTotal counts durable snapshot writes by phase and status
	SnapshotWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamestate_snapshot_writes_total",
			Help: "Total number of durable snapshot writes",
		},
		[]string{"phase", "status"},
	)

	// ActivityLogsFlushed counts activity-log entries written to the sink
	ActivityLogsFlushed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gamestate_activity_logs_flushed_total",
			Help: "Total number of activity-log entries written to the sink",
		},
	)
)

// Status returns the label value for an error outcome.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
