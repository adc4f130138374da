// Package metrics holds the Prometheus collectors shared by the servers.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mediaserver"

// Metrics is a private registry plus the collectors registered on it. Each server
// reports under its own "server" label.
type Metrics struct {
	registry *prometheus.Registry

	sessionsActive   *prometheus.GaugeVec
	sessionsAccepted *prometheus.CounterVec
	sessionsSwept    *prometheus.CounterVec
	sessionsRejected *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions currently registered.",
		}, []string{"server"}),
		sessionsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_accepted_total",
			Help:      "Number of sessions created from accepted connections.",
		}, []string{"server"}),
		sessionsSwept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_swept_total",
			Help:      "Number of dead sessions reclaimed by the liveness sweeper.",
		}, []string{"server"}),
		sessionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_rejected_total",
			Help:      "Number of accepted connections dropped before becoming a session.",
		}, []string{"server", "reason"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests dispatched, by whether a handler was found.",
		}, []string{"server", "route"}),
	}

	m.registry.MustRegister(
		m.sessionsActive,
		m.sessionsAccepted,
		m.sessionsSwept,
		m.sessionsRejected,
		m.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// The methods below are all nil-safe so servers can run without metrics.

func (m *Metrics) SetActive(server string, n int) {
	if m != nil {
		m.sessionsActive.WithLabelValues(server).Set(float64(n))
	}
}

func (m *Metrics) Accepted(server string) {
	if m != nil {
		m.sessionsAccepted.WithLabelValues(server).Inc()
	}
}

func (m *Metrics) Swept(server string, n int) {
	if m != nil && n > 0 {
		m.sessionsSwept.WithLabelValues(server).Add(float64(n))
	}
}

func (m *Metrics) Rejected(server, reason string) {
	if m != nil {
		m.sessionsRejected.WithLabelValues(server, reason).Inc()
	}
}

// Request counts a dispatched HTTP request; matched is false for 404s.
func (m *Metrics) Request(server string, matched bool) {
	if m == nil {
		return
	}
	route := "matched"
	if !matched {
		route = "not_found"
	}
	m.httpRequests.WithLabelValues(server, route).Inc()
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
