package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the core pipeline metrics (wire to screen)
type Metrics struct {
	// Ingestion metrics
	MessagesReceived *prometheus.CounterVec
	SignalsDecoded   *prometheus.CounterVec
	DecodeErrors     *prometheus.CounterVec

	// State store metrics
	UpdatesApplied  *prometheus.CounterVec
	UpdatesRejected *prometheus.CounterVec
	StaleSignals    prometheus.Gauge

	// Notifier metrics
	NotificationsDelivered prometheus.Counter
	NotificationsCoalesced prometheus.Counter
	NotificationsDropped   prometheus.Counter

	// Transport metrics
	TransportConnected  prometheus.Gauge
	TransportReconnects prometheus.Counter
	TransportRTT        prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all pipeline metrics
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "signalcore",
				Subsystem: "transport",
				Name:      "messages_received_total",
				Help:      "Raw bus messages received, by topic",
			},
			[]string{"topic"},
		),

		SignalsDecoded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "signalcore",
				Subsystem: "decode",
				Name:      "signals_total",
				Help:      "Successfully decoded signal values, by key",
			},
			[]string{"key"},
		),

		DecodeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "signalcore",
				Subsystem: "decode",
				Name:      "errors_total",
				Help:      "Decode failures, by topic and reason",
			},
			[]string{"topic", "reason"},
		),

		UpdatesApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "signalcore",
				Subsystem: "store",
				Name:      "updates_applied_total",
				Help:      "State store updates accepted, by key",
			},
			[]string{"key"},
		),

		UpdatesRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "signalcore",
				Subsystem: "store",
				Name:      "updates_rejected_total",
				Help:      "Updates discarded as duplicate or out-of-order, by key",
			},
			[]string{"key"},
		),

		StaleSignals: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "signalcore",
				Subsystem: "staleness",
				Name:      "stale_signals",
				Help:      "Number of signals currently flagged stale",
			},
		),

		NotificationsDelivered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "signalcore",
				Subsystem: "notify",
				Name:      "delivered_total",
				Help:      "State change notifications delivered to consumers",
			},
		),

		NotificationsCoalesced: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "signalcore",
				Subsystem: "notify",
				Name:      "coalesced_total",
				Help:      "Updates coalesced into a newer value within one window",
			},
		),

		NotificationsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "signalcore",
				Subsystem: "notify",
				Name:      "dropped_total",
				Help:      "Notifications dropped because a consumer fell behind",
			},
		),

		TransportConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "signalcore",
				Subsystem: "transport",
				Name:      "connected",
				Help:      "Transport connection status (0=disconnected, 1=connected)",
			},
		),

		TransportReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "signalcore",
				Subsystem: "transport",
				Name:      "reconnects_total",
				Help:      "Total number of transport reconnections",
			},
		),

		TransportRTT: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "signalcore",
				Subsystem: "transport",
				Name:      "rtt_milliseconds",
				Help:      "Transport round-trip time in milliseconds",
			},
		),
	}
}

// RecordMessageReceived increments the raw message counter for a topic
func (m *Metrics) RecordMessageReceived(topic string) {
	m.MessagesReceived.WithLabelValues(topic).Inc()
}

// RecordSignalDecoded increments the decoded signal counter for a key
func (m *Metrics) RecordSignalDecoded(key string) {
	m.SignalsDecoded.WithLabelValues(key).Inc()
}

// RecordDecodeError increments the decode error counter
func (m *Metrics) RecordDecodeError(topic, reason string) {
	m.DecodeErrors.WithLabelValues(topic, reason).Inc()
}

// RecordUpdateApplied increments the applied update counter for a key
func (m *Metrics) RecordUpdateApplied(key string) {
	m.UpdatesApplied.WithLabelValues(key).Inc()
}

// RecordUpdateRejected increments the rejected update counter for a key
func (m *Metrics) RecordUpdateRejected(key string) {
	m.UpdatesRejected.WithLabelValues(key).Inc()
}

// RecordStaleSignals sets the stale signal gauge
func (m *Metrics) RecordStaleSignals(count int) {
	m.StaleSignals.Set(float64(count))
}

// RecordTransportStatus updates the transport connection gauge
func (m *Metrics) RecordTransportStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	m.TransportConnected.Set(value)
}

// RecordTransportReconnect increments the reconnection counter
func (m *Metrics) RecordTransportReconnect() {
	m.TransportReconnects.Inc()
}

// RecordTransportRTT updates the transport round-trip time gauge
func (m *Metrics) RecordTransportRTT(rtt time.Duration) {
	m.TransportRTT.Set(float64(rtt.Milliseconds()))
}
