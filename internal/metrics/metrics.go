// Package metrics owns the gateway's prometheus registry and collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docgate"

// Metrics groups the collectors updated by the gateway components. A nil
// *Metrics is valid and records nothing, so components and tests can run
// without a registry.
type Metrics struct {
	registry *prometheus.Registry

	authRequests      *prometheus.CounterVec
	bridgeActive      prometheus.Gauge
	bridgeConnections *prometheus.CounterVec
	bridgeMessages    *prometheus.CounterVec
	dispatches        *prometheus.CounterVec
	sessionsOpen      prometheus.Gauge
}

// New builds a private registry with Go runtime and process collectors plus
// the gateway's own collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		authRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_requests_total",
			Help:      "HTTP requests seen by the API key middleware, by mode and outcome.",
		}, []string{"mode", "outcome"}),
		bridgeActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bridge_active_connections",
			Help:      "WebSocket connections currently bridged to a worker process.",
		}),
		bridgeConnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_connections_total",
			Help:      "Bridged WebSocket connections by close reason.",
		}, []string{"reason"}),
		bridgeMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_messages_total",
			Help:      "Messages relayed by the bridge, by direction.",
		}, []string{"direction"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_dispatch_total",
			Help:      "Operation dispatches by document kind and outcome.",
		}, []string{"kind", "outcome"}),
		sessionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_open",
			Help:      "Documents held resident in the session store.",
		}),
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.authRequests,
		m.bridgeActive,
		m.bridgeConnections,
		m.bridgeMessages,
		m.dispatches,
		m.sessionsOpen,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) AuthRequest(mode, outcome string) {
	if m == nil {
		return
	}
	m.authRequests.WithLabelValues(mode, outcome).Inc()
}

func (m *Metrics) BridgeOpened() {
	if m == nil {
		return
	}
	m.bridgeActive.Inc()
}

func (m *Metrics) BridgeClosed(reason string) {
	if m == nil {
		return
	}
	m.bridgeActive.Dec()
	m.bridgeConnections.WithLabelValues(reason).Inc()
}

func (m *Metrics) BridgeMessage(direction string) {
	if m == nil {
		return
	}
	m.bridgeMessages.WithLabelValues(direction).Inc()
}

func (m *Metrics) Dispatch(kind, outcome string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(kind, outcome).Inc()
}

// SessionOpened and SessionClosed track resident sessions across every
// store sharing m.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsOpen.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessionsOpen.Dec()
}
