// Package metrics exposes Prometheus instrumentation for the orchestrator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all orchestrator metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	RunsStarted       prometheus.Counter
	RunsFinished      *prometheus.CounterVec
	EventsEmitted     *prometheus.CounterVec
	ApprovalsDecided  *prometheus.CounterVec
	SubscribersActive prometheus.Gauge
}

// New creates a metrics instance registered on reg.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Total runs started",
		}),
		RunsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Total runs reaching a terminal status",
		}, []string{"status"}),
		EventsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_emitted_total",
			Help:      "Total events emitted",
		}, []string{"type"}),
		ApprovalsDecided: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approvals_decided_total",
			Help:      "Total approval decisions applied",
		}, []string{"decision"}),
		SubscribersActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers_active",
			Help:      "Currently connected event stream subscribers",
		}),
	}
}

// RunStarted records a run start.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.RunsStarted.Inc()
}

// RunFinished records a terminal transition.
func (m *Metrics) RunFinished(status string) {
	if m == nil {
		return
	}
	m.RunsFinished.WithLabelValues(status).Inc()
}

// EventEmitted records one emitted event.
func (m *Metrics) EventEmitted(eventType string) {
	if m == nil {
		return
	}
	m.EventsEmitted.WithLabelValues(eventType).Inc()
}

// ApprovalDecided records an applied approval decision.
func (m *Metrics) ApprovalDecided(decision string) {
	if m == nil {
		return
	}
	m.ApprovalsDecided.WithLabelValues(decision).Inc()
}

// SubscriberConnected adjusts the active subscriber gauge.
func (m *Metrics) SubscriberConnected(delta float64) {
	if m == nil {
		return
	}
	m.SubscribersActive.Add(delta)
}
