// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "medgate"

// Metrics groups all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Requests       *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec

	Decisions *prometheus.CounterVec

	RelayPublished prometheus.Counter
	RelayFailed    prometheus.Counter
	RelayCursor    prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Handled requests by transport, method and result code.",
		}, []string{"transport", "method", "code"}),
		RequestLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request handling latency.",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"transport", "method"}),
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorization_decisions_total",
			Help:      "Authorization decisions by action and outcome.",
		}, []string{"action", "outcome"}),
		RelayPublished: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit_relay",
			Name:      "published_total",
			Help:      "Audit events published downstream.",
		}),
		RelayFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit_relay",
			Name:      "failed_total",
			Help:      "Failed audit event publish attempts.",
		}),
		RelayCursor: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "audit_relay",
			Name:      "cursor",
			Help:      "Sequence number of the last published audit event.",
		}),
	}
}

// ObserveRequest records one handled request.
func (m *Metrics) ObserveRequest(transport, method, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(transport, method, code).Inc()
	m.RequestLatency.WithLabelValues(transport, method).Observe(d.Seconds())
}

// ObserveDecision records an authorization outcome for action.
func (m *Metrics) ObserveDecision(action string, allowed bool) {
	if m == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.Decisions.WithLabelValues(action, outcome).Inc()
}

// ObservePublish records a relay publish attempt.
func (m *Metrics) ObservePublish(seq int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.RelayFailed.Inc()
		return
	}
	m.RelayPublished.Inc()
	m.RelayCursor.Set(float64(seq))
}
