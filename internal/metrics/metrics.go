// Package metrics provides Prometheus instrumentation for the gateway.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	Inbound  = "inbound"
	Outbound = "outbound"
)

// Metrics holds the gateway's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ActiveConnections  *prometheus.GaugeVec
	TotalConnections   *prometheus.CounterVec
	ConnectionErrors   *prometheus.CounterVec
	ConnectionDuration *prometheus.HistogramVec
	WebSocketFrames    *prometheus.CounterVec
}

// New registers all the collectors in reg. Every instance must be given its own
// registry, otherwise the registration panics on duplicates.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "gate"
	}

	factory := promauto.With(reg)

	return &Metrics{
		ActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_connections",
				Help:      "Number of currently served connections",
			},
			[]string{"type"},
		),
		TotalConnections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_total",
				Help:      "Total number of connections that produced a scope",
			},
			[]string{"type", "status"},
		),
		ConnectionErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connection_errors_total",
				Help:      "Total number of connections torn down by an error",
			},
			[]string{"stage"},
		),
		ConnectionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "connection_duration_seconds",
				Help:      "Connection duration in seconds",
				Buckets:   []float64{.001, .01, .05, .1, .5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"type"},
		),
		WebSocketFrames: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_frames_total",
				Help:      "Total number of WebSocket frames",
			},
			[]string{"opcode", "direction"},
		),
	}
}

// ObserveConnection tracks the lifecycle of a connection of the given type.
func (m *Metrics) ObserveConnection(connType string, f func() error) error {
	if m == nil {
		return f()
	}

	m.ActiveConnections.WithLabelValues(connType).Inc()
	defer m.ActiveConnections.WithLabelValues(connType).Dec()

	start := time.Now()
	err := f()
	m.ConnectionDuration.WithLabelValues(connType).Observe(time.Since(start).Seconds())

	status := "success"
	if err != nil {
		status = "error"
	}

	m.TotalConnections.WithLabelValues(connType, status).Inc()

	return err
}

// Error counts a connection that failed at the stage.
func (m *Metrics) Error(stage string) {
	if m == nil {
		return
	}

	m.ConnectionErrors.WithLabelValues(stage).Inc()
}

// Frame counts a single WebSocket frame.
func (m *Metrics) Frame(opcode fmt.Stringer, direction string) {
	if m == nil {
		return
	}

	m.WebSocketFrames.WithLabelValues(opcode.String(), direction).Inc()
}
