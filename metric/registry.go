// Package metric manages Prometheus metrics for the TenantSync pipeline:
// a shared registry, platform-level core metrics, and the /metrics handler.
package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/tenantsync/errors"
)

// MetricsRegistry manages the registration and lifecycle of metrics.
type MetricsRegistry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics
	registeredMetrics  map[string]prometheus.Collector
	mu                 sync.RWMutex
}

// NewMetricsRegistry creates a new metrics registry with core platform metrics
// and Go runtime collectors.
func NewMetricsRegistry() *MetricsRegistry {
	registry := &MetricsRegistry{
		prometheusRegistry: prometheus.NewRegistry(),
		registeredMetrics:  make(map[string]prometheus.Collector),
	}

	registry.Metrics = NewMetrics()
	registry.registerCore()

	registry.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return registry
}

// PrometheusRegistry returns the underlying Prometheus registry.
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

func (r *MetricsRegistry) registerCore() {
	r.prometheusRegistry.MustRegister(
		r.Metrics.StageMessages,
		r.Metrics.StageFailures,
		r.Metrics.StageDropped,
		r.Metrics.StageDuration,
		r.Metrics.EntitiesStored,
		r.Metrics.EntitiesSkipped,
		r.Metrics.AlertsCreated,
		r.Metrics.AlertsUpdated,
		r.Metrics.AlertsResolved,
		r.Metrics.ReconcilePasses,
		r.Metrics.BusConnected,
	)
}

// register adds a named collector for a component, rejecting duplicates.
func (r *MetricsRegistry) register(component, name string, c prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", component, name)
	if _, exists := r.registeredMetrics[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered for %s", name, component),
			"MetricsRegistry", "register", "duplicate metric registration")
	}

	if err := r.prometheusRegistry.Register(c); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if stderrors.As(err, &alreadyRegErr) {
			return errors.WrapInvalid(err, "MetricsRegistry", "register",
				fmt.Sprintf("prometheus conflict for metric %s", name))
		}
		return errors.WrapFatal(err, "MetricsRegistry", "register", "prometheus registration")
	}

	r.registeredMetrics[key] = c
	return nil
}

// RegisterCounter registers a counter metric for a component.
func (r *MetricsRegistry) RegisterCounter(component, name string, counter prometheus.Counter) error {
	return r.register(component, name, counter)
}

// RegisterGauge registers a gauge metric for a component.
func (r *MetricsRegistry) RegisterGauge(component, name string, gauge prometheus.Gauge) error {
	return r.register(component, name, gauge)
}

// RegisterHistogram registers a histogram metric for a component.
func (r *MetricsRegistry) RegisterHistogram(component, name string, histogram prometheus.Histogram) error {
	return r.register(component, name, histogram)
}

// RegisterCounterVec registers a counter vector metric for a component.
func (r *MetricsRegistry) RegisterCounterVec(component, name string, vec *prometheus.CounterVec) error {
	return r.register(component, name, vec)
}

// RegisterGaugeVec registers a gauge vector metric for a component.
func (r *MetricsRegistry) RegisterGaugeVec(component, name string, vec *prometheus.GaugeVec) error {
	return r.register(component, name, vec)
}

// Unregister removes a component's metric from the registry.
func (r *MetricsRegistry) Unregister(component, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", component, name)
	c, exists := r.registeredMetrics[key]
	if !exists {
		return false
	}

	delete(r.registeredMetrics, key)
	return r.prometheusRegistry.Unregister(c)
}
