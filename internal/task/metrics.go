package task

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the queue's prometheus collectors.
type Metrics struct {
	// Submitted counts accepted submissions.
	Submitted prometheus.Counter

	// Completed counts execution units by terminal status.
	Completed *prometheus.CounterVec

	// Running tracks currently executing units.
	Running prometheus.Gauge
}

// NewMetrics creates and registers the queue metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quarry_tasks_submitted_total",
			Help: "Total number of tasks accepted by Submit.",
		}),
		Completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quarry_tasks_completed_total",
			Help: "Total number of execution units finished, by terminal status.",
		}, []string{"status"}),
		Running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quarry_tasks_running",
			Help: "Number of execution units currently running in this process.",
		}),
	}
	reg.MustRegister(m.Submitted, m.Completed, m.Running)
	return m
}

// nil-safe helpers so the queue works without metrics wired.

func (m *Metrics) submitted() {
	if m != nil {
		m.Submitted.Inc()
	}
}

func (m *Metrics) completed(status string) {
	if m != nil {
		m.Completed.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) runningInc() {
	if m != nil {
		m.Running.Inc()
	}
}

func (m *Metrics) runningDec() {
	if m != nil {
		m.Running.Dec()
	}
}
