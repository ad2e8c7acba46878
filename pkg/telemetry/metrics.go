package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for rekindle. A disabled Metrics
// value is a safe no-op.
type Metrics struct {
	config MetricsConfig

	// Transition metrics
	transitionsStarted   *prometheus.CounterVec
	transitionsCompleted *prometheus.CounterVec
	transitionDuration   *prometheus.HistogramVec

	// Component metrics
	componentOperations *prometheus.CounterVec
	runningComponents   prometheus.Gauge

	// Observer metrics
	statusObservers prometheus.Gauge

	// History store metrics
	historyWriteFailures prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		transitionsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_started_total",
				Help:      "Total number of lifecycle transitions started",
			},
			[]string{"op"},
		),
		transitionsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_completed_total",
				Help:      "Total number of lifecycle transitions completed",
			},
			[]string{"op", "result"},
		),
		transitionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transition_duration_seconds",
				Help:      "Duration of lifecycle transitions in seconds",
				Buckets:   buckets,
			},
			[]string{"op", "result"},
		),
		componentOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "component_operations_total",
				Help:      "Total number of component start/stop operations",
			},
			[]string{"op", "result"},
		),
		runningComponents: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "components_running",
				Help:      "Number of components in the stored system",
			},
		),
		statusObservers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "status_observers",
				Help:      "Number of connected status stream observers",
			},
		),
		historyWriteFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "history_write_failures_total",
				Help:      "Total number of failed transition history writes",
			},
		),
	}

	registry.MustRegister(
		m.transitionsStarted,
		m.transitionsCompleted,
		m.transitionDuration,
		m.componentOperations,
		m.runningComponents,
		m.statusObservers,
		m.historyWriteFailures,
	)

	return m, nil
}

// TransitionStarted records the start of a transition.
func (m *Metrics) TransitionStarted(op string) {
	if m.registry == nil {
		return
	}
	m.transitionsStarted.WithLabelValues(op).Inc()
}

// TransitionCompleted records a completed transition with its result
// and duration.
func (m *Metrics) TransitionCompleted(op, result string, d time.Duration) {
	if m.registry == nil {
		return
	}
	m.transitionsCompleted.WithLabelValues(op, result).Inc()
	m.transitionDuration.WithLabelValues(op, result).Observe(d.Seconds())
}

// ComponentOperation records one component start or stop attempt.
func (m *Metrics) ComponentOperation(op, result string) {
	if m.registry == nil {
		return
	}
	m.componentOperations.WithLabelValues(op, result).Inc()
}

// SetRunningComponents sets the stored-system component count.
func (m *Metrics) SetRunningComponents(n int) {
	if m.registry == nil {
		return
	}
	m.runningComponents.Set(float64(n))
}

// ObserverConnected records a new status stream observer.
func (m *Metrics) ObserverConnected() {
	if m.registry == nil {
		return
	}
	m.statusObservers.Inc()
}

// ObserverDisconnected records a departed status stream observer.
func (m *Metrics) ObserverDisconnected() {
	if m.registry == nil {
		return
	}
	m.statusObservers.Dec()
}

// HistoryWriteFailed records a failed transition history write.
func (m *Metrics) HistoryWriteFailed() {
	if m.registry == nil {
		return
	}
	m.historyWriteFailures.Inc()
}

// Handler returns the HTTP handler serving this registry, or nil when
// metrics are disabled.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
