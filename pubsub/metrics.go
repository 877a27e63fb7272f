package pubsub

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zhikook/chililog-server/metric"
)

// Publication outcomes
const (
	outcomeAccepted = "accepted"
	outcomeRejected = "rejected"
	outcomeInvalid  = "invalid"
	outcomeFailed   = "failed"
)

// Metrics holds the Prometheus metrics of the publish/subscribe front end.
// A nil *Metrics records nothing.
type Metrics struct {
	publications  *prometheus.CounterVec
	entries       prometheus.Counter
	pushed        prometheus.Counter
	subscriptions prometheus.Gauge
	connections   prometheus.Gauge
}

// NewMetrics creates and registers the metrics. A nil registry disables metrics.
func NewMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		publications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "pubsub",
			Name:      "publications_total",
			Help:      "Publication requests by outcome",
		}, []string{"outcome"}),
		entries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "pubsub",
			Name:      "published_entries_total",
			Help:      "Log entries written to repository write addresses",
		}),
		pushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "pubsub",
			Name:      "pushed_entries_total",
			Help:      "Log entries pushed to subscribers",
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "pubsub",
			Name:      "subscriptions_active",
			Help:      "Live subscriptions",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "pubsub",
			Name:      "websocket_connections",
			Help:      "Open WebSocket connections",
		}),
	}

	if err := registry.RegisterCounterVec("pubsub", "publications_total", m.publications); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("pubsub", "published_entries_total", m.entries); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("pubsub", "pushed_entries_total", m.pushed); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("pubsub", "subscriptions_active", m.subscriptions); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("pubsub", "websocket_connections", m.connections); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) recordPublication(outcome string, entries int) {
	if m == nil {
		return
	}
	m.publications.WithLabelValues(outcome).Inc()
	m.entries.Add(float64(entries))
}

func (m *Metrics) recordPush() {
	if m == nil {
		return
	}
	m.pushed.Inc()
}

func (m *Metrics) subscriptionStarted() {
	if m == nil {
		return
	}
	m.subscriptions.Inc()
}

func (m *Metrics) subscriptionStopped() {
	if m == nil {
		return
	}
	m.subscriptions.Dec()
}

func (m *Metrics) connectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) connectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}
