package nss

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Session outcomes recorded by Metrics.
const (
	outcomeReplied = "replied"
	outcomeInvalid = "invalid"
	outcomeTimeout = "timeout"
	outcomeAborted = "aborted"
)

// Metrics collects server statistics in Prometheus form.
// A nil *Metrics records nothing.
type Metrics struct {
	sessions          *prometheus.CounterVec
	activeSessions    prometheus.Gauge
	executions        *prometheus.CounterVec
	executionDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nss_sessions_total",
				Help: "Sessions finished, by outcome.",
			},
			[]string{"outcome"},
		),
		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "nss_active_sessions",
				Help: "Sessions currently open.",
			},
		),
		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nss_executions_total",
				Help: "Snippets executed, by result.",
			},
			[]string{"result"},
		),
		executionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "nss_execution_duration_seconds",
				Help:    "Time spent running snippets in the host.",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	reg.MustRegister(m.sessions, m.activeSessions, m.executions, m.executionDuration)
	return m
}

func (m *Metrics) sessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) sessionFinished(outcome string) {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	m.sessions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) executed(res Result) {
	if m == nil {
		return
	}
	result := "ok"
	if res.Failed() {
		result = "error"
	}
	m.executions.WithLabelValues(result).Inc()
	m.executionDuration.Observe(res.Duration.Seconds())
}
