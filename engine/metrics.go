package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zhikook/chililog-server/metric"
)

// Entry outcomes
const (
	outcomeStored       = "stored"
	outcomeDeadLettered = "dead_lettered"
	outcomeRedelivered  = "redelivered"
)

// Metrics holds the Prometheus metrics of the repository engine.
// A nil *Metrics records nothing.
type Metrics struct {
	entries            *prometheus.CounterVec // By repository and outcome
	deadLetterFailures *prometheus.CounterVec // By repository
	workerCrashes      *prometheus.CounterVec // By repository
	lifecycle          *prometheus.CounterVec // By repository, operation and status
	workersRunning     *prometheus.GaugeVec   // By repository
	persistDuration    *prometheus.HistogramVec
}

// NewMetrics creates and registers engine metrics. A nil registry disables metrics.
func NewMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "entries_total",
			Help:      "Write queue messages handled by storage workers",
		}, []string{"repository", "outcome"}),

		deadLetterFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "dead_letter_failures_total",
			Help:      "Unparsable entries that could not be forwarded to the dead-letter address",
		}, []string{"repository"}),

		workerCrashes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "worker_crashes_total",
			Help:      "Storage workers terminated by an unexpected failure",
		}, []string{"repository"}),

		lifecycle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "repository_transitions_total",
			Help:      "Repository start and stop operations",
		}, []string{"repository", "operation", "status"}),

		workersRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "workers_running",
			Help:      "Storage workers currently running",
		}, []string{"repository"}),

		persistDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "persist_duration_seconds",
			Help:      "Time spent inserting one entry into the store",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"repository"}),
	}

	if err := registry.RegisterCounterVec("engine", "entries_total", m.entries); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("engine", "dead_letter_failures_total", m.deadLetterFailures); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("engine", "worker_crashes_total", m.workerCrashes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("engine", "repository_transitions_total", m.lifecycle); err != nil {
		return nil, err
	}
	if err := registry.RegisterGaugeVec("engine", "workers_running", m.workersRunning); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec("engine", "persist_duration_seconds", m.persistDuration); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) recordEntry(repo, outcome string) {
	if m == nil {
		return
	}
	m.entries.WithLabelValues(repo, outcome).Inc()
}

func (m *Metrics) recordDeadLetterFailure(repo string) {
	if m == nil {
		return
	}
	m.deadLetterFailures.WithLabelValues(repo).Inc()
}

func (m *Metrics) recordCrash(repo string) {
	if m == nil {
		return
	}
	m.workerCrashes.WithLabelValues(repo).Inc()
}

func (m *Metrics) recordTransition(repo, operation string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.lifecycle.WithLabelValues(repo, operation, status).Inc()
}

func (m *Metrics) workerStarted(repo string) {
	if m == nil {
		return
	}
	m.workersRunning.WithLabelValues(repo).Inc()
}

func (m *Metrics) workerStopped(repo string) {
	if m == nil {
		return
	}
	m.workersRunning.WithLabelValues(repo).Dec()
}

func (m *Metrics) observePersist(repo string, seconds float64) {
	if m == nil {
		return
	}
	m.persistDuration.WithLabelValues(repo).Observe(seconds)
}
