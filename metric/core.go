package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains platform-level metrics shared by every pipeline stage.
// Domain-specific metrics (worker pools, adapters) register their own
// collectors via the registry.
type Metrics struct {
	// Stage metrics
	StageMessages *prometheus.CounterVec
	StageFailures *prometheus.CounterVec
	StageDropped  *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec

	// Processor metrics
	EntitiesStored  *prometheus.CounterVec
	EntitiesSkipped *prometheus.CounterVec

	// Alert lifecycle metrics
	AlertsCreated   prometheus.Counter
	AlertsUpdated   prometheus.Counter
	AlertsResolved  prometheus.Counter
	ReconcilePasses *prometheus.CounterVec

	// Bus metrics
	BusConnected prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all platform metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		StageMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tenantsync",
				Subsystem: "stage",
				Name:      "messages_total",
				Help:      "Messages handled per pipeline stage",
			},
			[]string{"stage", "entity_type"},
		),

		StageFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tenantsync",
				Subsystem: "stage",
				Name:      "failures_total",
				Help:      "Failure events emitted per pipeline stage",
			},
			[]string{"stage", "code"},
		),

		StageDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tenantsync",
				Subsystem: "stage",
				Name:      "dropped_total",
				Help:      "Events dropped because a stage's queue was full",
			},
			[]string{"stage"},
		),

		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tenantsync",
				Subsystem: "stage",
				Name:      "duration_seconds",
				Help:      "Stage handler duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),

		EntitiesStored: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tenantsync",
				Subsystem: "processor",
				Name:      "entities_stored_total",
				Help:      "Entities created or updated by the processor",
			},
			[]string{"entity_type", "operation"},
		),

		EntitiesSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tenantsync",
				Subsystem: "processor",
				Name:      "entities_skipped_total",
				Help:      "Entities skipped because their data hash was unchanged",
			},
			[]string{"entity_type"},
		),

		AlertsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tenantsync",
				Subsystem: "alerts",
				Name:      "created_total",
				Help:      "Alerts created by reconciliation",
			},
		),

		AlertsUpdated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tenantsync",
				Subsystem: "alerts",
				Name:      "updated_total",
				Help:      "Alerts updated in place by reconciliation",
			},
		),

		AlertsResolved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tenantsync",
				Subsystem: "alerts",
				Name:      "resolved_total",
				Help:      "Alerts transitioned to resolved by reconciliation",
			},
		),

		ReconcilePasses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tenantsync",
				Subsystem: "alerts",
				Name:      "reconcile_passes_total",
				Help:      "Reconciliation passes per outcome",
			},
			[]string{"status"},
		),

		BusConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tenantsync",
				Subsystem: "bus",
				Name:      "connected",
				Help:      "Whether the NATS connection is established (0/1)",
			},
		),
	}
}
