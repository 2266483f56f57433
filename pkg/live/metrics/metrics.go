// Package metrics holds the Prometheus instruments for the live engine and
// the dev relay. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Connection states reported on the ConnectionState gauge.
var connectionStates = []string{"disconnected", "connecting", "connected", "reconnecting"}

// Metrics holds all Prometheus metrics for one process.
type Metrics struct {
	registry *prometheus.Registry

	// Connection manager
	ConnectionState   *prometheus.GaugeVec
	DialAttempts      *prometheus.CounterVec
	ReconnectsTotal   prometheus.Counter
	DecodeErrorsTotal prometheus.Counter
	SendsDroppedTotal prometheus.Counter

	// Engine
	EventsTotal     *prometheus.CounterVec
	SubscribesTotal prometheus.Counter
	TimerArmsTotal  prometheus.Counter

	// Relay
	RelayConnections prometheus.Gauge
	RelayBroadcasts  *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance on its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "village"
	}

	registry := prometheus.NewRegistry()

	connectionState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 otherwise",
		},
		[]string{"state"},
	)

	dialAttempts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dial_attempts_total",
			Help:      "WebSocket dial attempts by result",
		},
		[]string{"result"},
	)

	reconnectsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnect tasks scheduled after a close or failed dial",
		},
	)

	decodeErrorsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Inbound frames dropped because they could not be decoded",
		},
	)

	sendsDroppedTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_dropped_total",
			Help:      "Outbound messages discarded because the socket was not open",
		},
	)

	eventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Server events seen by the reducer by type and outcome",
		},
		[]string{"event_type", "outcome"},
	)

	subscribesTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscribes_sent_total",
			Help:      "subscribe_call directives written to the socket",
		},
	)

	timerArmsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_timer_armed_total",
			Help:      "Times the village response timer started",
		},
	)

	relayConnections := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_connections_active",
			Help:      "Open dashboard sockets on the relay",
		},
	)

	relayBroadcasts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_broadcasts_total",
			Help:      "Frames fanned out by the relay by event type",
		},
		[]string{"event_type"},
	)

	registry.MustRegister(
		connectionState,
		dialAttempts,
		reconnectsTotal,
		decodeErrorsTotal,
		sendsDroppedTotal,
		eventsTotal,
		subscribesTotal,
		timerArmsTotal,
		relayConnections,
		relayBroadcasts,
	)

	return &Metrics{
		registry:          registry,
		ConnectionState:   connectionState,
		DialAttempts:      dialAttempts,
		ReconnectsTotal:   reconnectsTotal,
		DecodeErrorsTotal: decodeErrorsTotal,
		SendsDroppedTotal: sendsDroppedTotal,
		EventsTotal:       eventsTotal,
		SubscribesTotal:   subscribesTotal,
		TimerArmsTotal:    timerArmsTotal,
		RelayConnections:  relayConnections,
		RelayBroadcasts:   relayBroadcasts,
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetConnectionState marks state as current.
func (m *Metrics) SetConnectionState(state string) {
	if m == nil {
		return
	}
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.ConnectionState.WithLabelValues(s).Set(v)
	}
}

// RecordDial records a dial attempt; err nil means the socket opened.
func (m *Metrics) RecordDial(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.DialAttempts.WithLabelValues(result).Inc()
}

// RecordReconnectScheduled records one scheduled reconnect task.
func (m *Metrics) RecordReconnectScheduled() {
	if m == nil {
		return
	}
	m.ReconnectsTotal.Inc()
}

// RecordDecodeError records a dropped malformed frame.
func (m *Metrics) RecordDecodeError() {
	if m == nil {
		return
	}
	m.DecodeErrorsTotal.Inc()
}

// RecordSendDropped records a message discarded while disconnected.
func (m *Metrics) RecordSendDropped() {
	if m == nil {
		return
	}
	m.SendsDroppedTotal.Inc()
}

// RecordEvent records one reducer outcome.
func (m *Metrics) RecordEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// RecordSubscribe records a subscribe_call written to the socket.
func (m *Metrics) RecordSubscribe() {
	if m == nil {
		return
	}
	m.SubscribesTotal.Inc()
}

// RecordTimerArmed records the response timer starting.
func (m *Metrics) RecordTimerArmed() {
	if m == nil {
		return
	}
	m.TimerArmsTotal.Inc()
}

// RecordRelayConnOpen records a dashboard socket opening on the relay.
func (m *Metrics) RecordRelayConnOpen() {
	if m == nil {
		return
	}
	m.RelayConnections.Inc()
}

// RecordRelayConnClose records a dashboard socket closing on the relay.
func (m *Metrics) RecordRelayConnClose() {
	if m == nil {
		return
	}
	m.RelayConnections.Dec()
}

// RecordBroadcast records a relay fan-out.
func (m *Metrics) RecordBroadcast(eventType string) {
	if m == nil {
		return
	}
	m.RelayBroadcasts.WithLabelValues(eventType).Inc()
}
