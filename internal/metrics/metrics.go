// Package metrics exposes wire and transport counters as Prometheus metrics.
//
// A nil *Metrics is valid and records nothing, so components take one without
// checking whether metrics are enabled.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kyano"

// Outbound results recorded by OutboundResult.
const (
	ResultSent     = "sent"
	ResultBuffered = "buffered"
	ResultDropped  = "dropped"
)

// Metrics holds the collectors shared by every connection of a process.
type Metrics struct {
	streamGaps      *prometheus.CounterVec
	streamMissed    *prometheus.CounterVec
	outbound        *prometheus.CounterVec
	reconnects      *prometheus.CounterVec
	state           *prometheus.GaugeVec
	bufferSize      *prometheus.GaugeVec
	requestTimeouts *prometheus.CounterVec
	decodeErrors    *prometheus.CounterVec
	sessions        prometheus.Gauge
}

// New creates the collectors and registers them on reg. A nil reg leaves them
// unregistered, which tests use to read values directly.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		streamGaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "gaps_total",
			Help:      "Sequence jumps detected on inbound stream emissions",
		}, []string{"wire"}),
		streamMissed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "missed_total",
			Help:      "Stream emissions skipped over by detected gaps",
		}, []string{"wire"}),
		outbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "outbound_total",
			Help:      "Outbound envelopes by result (sent, buffered, dropped)",
		}, []string{"transport", "result"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "reconnects_total",
			Help:      "Reconnection attempts scheduled",
		}, []string{"transport"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "state",
			Help:      "Current transport state (0 connecting, 1 open, 2 disconnected, 3 reconnecting, 4 closed)",
		}, []string{"transport"}),
		bufferSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "size",
			Help:      "Envelopes waiting in the pending buffer",
		}, []string{"transport"}),
		requestTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "request",
			Name:      "timeouts_total",
			Help:      "Discrete requests that timed out",
		}, []string{"wire"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "decode_errors_total",
			Help:      "Inbound frames dropped because they could not be decoded",
		}, []string{"transport"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "sessions",
			Help:      "Connected server sessions",
		}),
	}

	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.streamGaps, m.streamMissed, m.outbound, m.reconnects, m.state,
		m.bufferSize, m.requestTimeouts, m.decodeErrors, m.sessions,
	}
}

// Gap records a detected gap of missed emissions on wire.
func (m *Metrics) Gap(wire string, missed int64) {
	if m == nil || missed <= 0 {
		return
	}
	m.streamGaps.WithLabelValues(wire).Inc()
	m.streamMissed.WithLabelValues(wire).Add(float64(missed))
}

// OutboundResult counts one outbound envelope.
func (m *Metrics) OutboundResult(transport, result string) {
	if m == nil {
		return
	}
	m.outbound.WithLabelValues(transport, result).Inc()
}

// Reconnect counts a scheduled reconnection attempt.
func (m *Metrics) Reconnect(transport string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(transport).Inc()
}

// State records the numeric state of a transport.
func (m *Metrics) State(transport string, state int) {
	if m == nil {
		return
	}
	m.state.WithLabelValues(transport).Set(float64(state))
}

// BufferSize records the pending buffer length.
func (m *Metrics) BufferSize(transport string, size int) {
	if m == nil {
		return
	}
	m.bufferSize.WithLabelValues(transport).Set(float64(size))
}

// RequestTimeout counts a timed out Discrete request.
func (m *Metrics) RequestTimeout(wire string) {
	if m == nil {
		return
	}
	m.requestTimeouts.WithLabelValues(wire).Inc()
}

// DecodeError counts a dropped inbound frame.
func (m *Metrics) DecodeError(transport string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(transport).Inc()
}

// SessionOpened increments the server session gauge.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

// SessionClosed decrements the server session gauge.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessions.Dec()
}
