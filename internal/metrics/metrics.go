package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Gateway metrics
	GatewayEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expander_gateway_events_total",
			Help: "Total number of gateway events consumed by the dispatcher",
		},
		[]string{"type"},
	)

	SnapshotApplyErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "expander_snapshot_apply_errors_total",
			Help: "Total number of gateway events the snapshot could not apply",
		},
	)

	// Pipeline metrics
	Expansions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expander_expansions_total",
			Help: "Total number of handled message-create events by outcome",
		},
		[]string{"outcome"},
	)

	ExpansionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "expander_expansion_duration_seconds",
			Help:    "Duration of the resolution pipeline in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	Lookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expander_lookups_total",
			Help: "Total number of entity lookups by entity, source and status",
		},
		[]string{"entity", "source", "status"},
	)

	// Dispatcher metrics
	InFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "expander_handlers_in_flight",
			Help: "Number of resolution handlers currently running",
		},
	)

	Throttled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "expander_throttled_total",
			Help: "Total number of messages skipped by the per-user trigger limiter",
		},
	)
)

// ObserveLookup records one entity lookup.
func ObserveLookup(entity, source string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	Lookups.WithLabelValues(entity, source, status).Inc()
}
