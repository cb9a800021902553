package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics groups the Prometheus collectors of the application. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	TaskMutations   *prometheus.CounterVec
	SnapshotsPushed *prometheus.CounterVec
	SessionEvents   *prometheus.CounterVec
}

// New creates and registers all collectors on a fresh registry
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		TaskMutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasklist_task_mutations_total",
				Help: "Task store mutations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		SnapshotsPushed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasklist_snapshots_pushed_total",
				Help: "Task snapshots applied to the in-memory view",
			},
			[]string{"backend"},
		),
		SessionEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasklist_session_events_total",
				Help: "Login, register and logout attempts by outcome",
			},
			[]string{"event", "outcome"},
		),
	}

	registry.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.TaskMutations,
		m.SnapshotsPushed,
		m.SessionEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// ObserveMutation counts one task store mutation
func (m *Metrics) ObserveMutation(operation, outcome string) {
	if m == nil {
		return
	}
	m.TaskMutations.WithLabelValues(operation, outcome).Inc()
}

// ObserveSnapshot counts one applied snapshot
func (m *Metrics) ObserveSnapshot(backend string) {
	if m == nil {
		return
	}
	m.SnapshotsPushed.WithLabelValues(backend).Inc()
}

// ObserveSession counts one session event
func (m *Metrics) ObserveSession(event, outcome string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event, outcome).Inc()
}
