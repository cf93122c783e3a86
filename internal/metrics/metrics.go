package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clawd_node"

// Metrics holds the node's Prometheus collectors. A nil *Metrics is valid and
// records nothing, so callers never need to check.
type Metrics struct {
	registry *prometheus.Registry

	connectionState   prometheus.Gauge
	connectAttempts   prometheus.Counter
	reconnects        prometheus.Counter
	authFailures      prometheus.Counter
	pairingRequests   prometheus.Counter
	droppedFrames     *prometheus.CounterVec
	pendingRequests   prometheus.Gauge
	invocations       *prometheus.CounterVec
	invocationLatency *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "connection_state",
			Help:      "Current connection state (0 idle, 1 connecting, 2 awaiting challenge, 3 authenticating, 4 connected, 5 closed)",
		}),
		connectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "connect_attempts_total",
			Help:      "Total number of transport connection attempts",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "reconnects_total",
			Help:      "Total number of reconnects scheduled after a session closed",
		}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "auth_failures_total",
			Help:      "Total number of rejected authentication attempts",
		}),
		pairingRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "pairing_requests_total",
			Help:      "Total number of node.pair.request calls sent",
		}),
		droppedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "dropped_frames_total",
			Help:      "Frames dropped by reason (malformed, send_buffer_full)",
		}, []string{"reason"}),
		pendingRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "pending_requests",
			Help:      "Requests awaiting a response",
		}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "invocations_total",
			Help:      "Invocations completed by command and outcome",
		}, []string{"command", "outcome"}),
		invocationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "invocation_duration_seconds",
			Help:      "Time from receipt to result per command",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60},
		}, []string{"command"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connectionState,
		m.connectAttempts,
		m.reconnects,
		m.authFailures,
		m.pairingRequests,
		m.droppedFrames,
		m.pendingRequests,
		m.invocations,
		m.invocationLatency,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SetConnectionState(state int) {
	if m == nil {
		return
	}
	m.connectionState.Set(float64(state))
}

func (m *Metrics) ConnectAttempt() {
	if m == nil {
		return
	}
	m.connectAttempts.Inc()
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) AuthFailure() {
	if m == nil {
		return
	}
	m.authFailures.Inc()
}

func (m *Metrics) PairingRequest() {
	if m == nil {
		return
	}
	m.pairingRequests.Inc()
}

func (m *Metrics) DroppedFrame(reason string) {
	if m == nil {
		return
	}
	m.droppedFrames.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetPendingRequests(n int) {
	if m == nil {
		return
	}
	m.pendingRequests.Set(float64(n))
}

// Invocation records one completed invocation. outcome is "ok" or the error
// code.
func (m *Metrics) Invocation(command, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(command, outcome).Inc()
	m.invocationLatency.WithLabelValues(command).Observe(elapsed.Seconds())
}
