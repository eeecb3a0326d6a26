// Package metrics holds the Prometheus collectors of the docrelay authority.
//
// Every recording method is safe on a nil *Metrics so components can be
// constructed without instrumentation in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors.
type Metrics struct {
	// Relay
	RelayRequests *prometheus.CounterVec
	RelayDuration *prometheus.HistogramVec
	Contexts      prometheus.Gauge
	Broadcasts    *prometheus.CounterVec

	// Session
	SessionTransitions *prometheus.CounterVec
	SignInAttempts     *prometheus.CounterVec
	StoreErrors        *prometheus.CounterVec

	// Revalidation
	Revalidations *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. A nil reg selects a fresh registry
// that also carries the Go and process collectors.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	f := promauto.With(reg)

	return &Metrics{
		RelayRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docrelay_relay_requests_total",
				Help: "Requests answered by the message router",
			},
			[]string{"action", "result"},
		),
		RelayDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docrelay_relay_request_duration_seconds",
				Help:    "Time from dispatch to terminal response",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"action"},
		),
		Contexts: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "docrelay_contexts_connected",
				Help: "Execution contexts currently connected",
			},
		),
		Broadcasts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docrelay_broadcasts_total",
				Help: "Notifications fanned out to contexts",
			},
			[]string{"type", "result"},
		),
		SessionTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docrelay_session_transitions_total",
				Help: "Session status transitions",
			},
			[]string{"from", "to"},
		),
		SignInAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docrelay_signin_attempts_total",
				Help: "Credential acquisition attempts by outcome",
			},
			[]string{"kind", "result"},
		),
		StoreErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docrelay_session_store_errors_total",
				Help: "Failed session store operations",
			},
			[]string{"op"},
		),
		Revalidations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docrelay_revalidations_total",
				Help: "Scheduler fires by outcome",
			},
			[]string{"result"},
		),
		gatherer: reg,
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) RelayRequest(action, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RelayRequests.WithLabelValues(action, result).Inc()
	m.RelayDuration.WithLabelValues(action).Observe(elapsed.Seconds())
}

func (m *Metrics) ContextConnected() {
	if m == nil {
		return
	}
	m.Contexts.Inc()
}

func (m *Metrics) ContextDisconnected() {
	if m == nil {
		return
	}
	m.Contexts.Dec()
}

func (m *Metrics) Broadcast(typ string, delivered, dropped int) {
	if m == nil {
		return
	}
	m.Broadcasts.WithLabelValues(typ, "delivered").Add(float64(delivered))
	m.Broadcasts.WithLabelValues(typ, "dropped").Add(float64(dropped))
}

func (m *Metrics) SessionTransition(from, to string) {
	if m == nil || from == to {
		return
	}
	m.SessionTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) SignInAttempt(kind, result string) {
	if m == nil {
		return
	}
	m.SignInAttempts.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) StoreError(op string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) Revalidation(result string) {
	if m == nil {
		return
	}
	m.Revalidations.WithLabelValues(result).Inc()
}
