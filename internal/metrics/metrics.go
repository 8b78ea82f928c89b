// Package metrics exposes Prometheus instruments for the task lifecycle.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mediagen"

type Metrics struct {
	tasksCreated     *prometheus.CounterVec
	tasksFinished    *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	providerErrors   *prometheus.CounterVec
	ledgerFailures   *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
}

// New registers every instrument with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		tasksCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_created_total",
			Help:      "Generation tasks accepted, by kind",
		}, []string{"kind"}),
		tasksFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Generation tasks reaching a terminal state",
		}, []string{"kind", "status"}),
		providerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Wall time of one adapter Generate call",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"channel", "kind"}),
		providerErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Adapter failures by error class",
		}, []string{"channel", "class"}),
		ledgerFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_failures_total",
			Help:      "Ledger operations that failed after a status transition",
		}, []string{"op"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) TaskCreated(kind string) {
	if m == nil {
		return
	}
	m.tasksCreated.WithLabelValues(kind).Inc()
}

func (m *Metrics) TaskFinished(kind, status string) {
	if m == nil {
		return
	}
	m.tasksFinished.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) ProviderCall(channel, kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.providerDuration.WithLabelValues(channel, kind).Observe(d.Seconds())
}

func (m *Metrics) ProviderError(channel, class string) {
	if m == nil {
		return
	}
	m.providerErrors.WithLabelValues(channel, class).Inc()
}

func (m *Metrics) LedgerFailure(op string) {
	if m == nil {
		return
	}
	m.ledgerFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) HTTPRequest(method, route, status string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
}
