package auth

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Transport identifies where an authorization decision was made.
type Transport string

// Transports reported in metrics.
const (
	TransportHTTP      Transport = "http"
	TransportWebSocket Transport = "websocket"
	TransportRPC       Transport = "rpc"
)

// Metrics counts authorization decisions.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	decisions *prometheus.CounterVec
	registry  *prometheus.Registry
}

// NewMetrics creates a new Metrics instance with its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "panelgate"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "decisions_total",
				Help:      "Total number of authorization decisions by transport and result",
			},
			[]string{"transport", "result"},
		),
	}
	m.registry.MustRegister(m.decisions)
	m.Init()

	return m
}

// Init pre-creates every label combination so the series show up in
// /metrics before the first request.
func (m *Metrics) Init() {
	for _, t := range []Transport{TransportHTTP, TransportWebSocket, TransportRPC} {
		for _, result := range []string{"allowed", "rejected"} {
			m.decisions.WithLabelValues(string(t), result)
		}
	}
}

// Record records one decision.
func (m *Metrics) Record(t Transport, allowed bool) {
	if m == nil {
		return
	}
	result := "rejected"
	if allowed {
		result = "allowed"
	}
	m.decisions.WithLabelValues(string(t), result).Inc()
}

// Registry returns the registry holding the metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
