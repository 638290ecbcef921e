package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wpipe"

// Metrics holds the connector-level metrics shared by every source and sink
// in a process. Labels carry the instance identifier.
type Metrics struct {
	// Source metrics
	SourceEvents          *prometheus.CounterVec
	SourceBatches         *prometheus.CounterVec
	SourceErrors          *prometheus.CounterVec
	SourceReceiveDuration *prometheus.HistogramVec

	// Sink metrics
	SinkItems         *prometheus.CounterVec
	SinkBytes         *prometheus.CounterVec
	SinkErrors        *prometheus.CounterVec
	SinkWriteDuration *prometheus.HistogramVec
	SinkReconnects    *prometheus.CounterVec

	// Control channel
	ControlEvents *prometheus.CounterVec

	// NATS metrics
	NATSConnected      prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates the metric set. Nothing is registered yet.
func NewMetrics() *Metrics {
	return &Metrics{
		SourceEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "source",
				Name:      "events_total",
				Help:      "Total number of events received from a source",
			},
			[]string{"source"},
		),

		SourceBatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "source",
				Name:      "batches_total",
				Help:      "Total number of Receive calls by outcome (data, empty)",
			},
			[]string{"source", "outcome"},
		),

		SourceErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "source",
				Name:      "errors_total",
				Help:      "Total number of source errors by error code",
			},
			[]string{"source", "code"},
		),

		SourceReceiveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "source",
				Name:      "receive_duration_seconds",
				Help:      "Time spent in Receive",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"source"},
		),

		SinkItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sink",
				Name:      "items_total",
				Help:      "Total number of records or payloads accepted by a sink",
			},
			[]string{"sink", "op"},
		),

		SinkBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sink",
				Name:      "bytes_total",
				Help:      "Total raw payload bytes accepted by a sink",
			},
			[]string{"sink"},
		),

		SinkErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sink",
				Name:      "errors_total",
				Help:      "Total number of failed sink calls by error code",
			},
			[]string{"sink", "op", "code"},
		),

		SinkWriteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sink",
				Name:      "write_duration_seconds",
				Help:      "Sink write latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"sink", "op"},
		),

		SinkReconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sink",
				Name:      "reconnects_total",
				Help:      "Total number of sink reconnects",
			},
			[]string{"sink"},
		),

		ControlEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "control",
				Name:      "events_total",
				Help:      "Control events published, by kind",
			},
			[]string{"event"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),

		NATSCircuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "circuit_breaker",
				Help:      "NATS circuit breaker status (0=closed, 1=open, 2=half-open)",
			},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.SourceEvents,
		m.SourceBatches,
		m.SourceErrors,
		m.SourceReceiveDuration,
		m.SinkItems,
		m.SinkBytes,
		m.SinkErrors,
		m.SinkWriteDuration,
		m.SinkReconnects,
		m.ControlEvents,
		m.NATSConnected,
		m.NATSReconnects,
		m.NATSCircuitBreaker,
	}
}

// RecordReceive records one Receive call. code is empty on success.
func (m *Metrics) RecordReceive(source string, events int, duration time.Duration, code string) {
	m.SourceReceiveDuration.WithLabelValues(source).Observe(duration.Seconds())
	if code != "" {
		m.SourceErrors.WithLabelValues(source, code).Inc()
		return
	}
	if events == 0 {
		m.SourceBatches.WithLabelValues(source, "empty").Inc()
		return
	}
	m.SourceBatches.WithLabelValues(source, "data").Inc()
	m.SourceEvents.WithLabelValues(source).Add(float64(events))
}

// RecordSinkWrite records a sink call that carried items payloads totalling
// size bytes (0 for record writes).
func (m *Metrics) RecordSinkWrite(sink, op string, items, size int, duration time.Duration) {
	m.SinkWriteDuration.WithLabelValues(sink, op).Observe(duration.Seconds())
	m.SinkItems.WithLabelValues(sink, op).Add(float64(items))
	if size > 0 {
		m.SinkBytes.WithLabelValues(sink).Add(float64(size))
	}
}

// RecordSinkError increments the sink error counter.
func (m *Metrics) RecordSinkError(sink, op, code string) {
	m.SinkErrors.WithLabelValues(sink, op, code).Inc()
}

// RecordSinkReconnect increments the reconnect counter.
func (m *Metrics) RecordSinkReconnect(sink string) {
	m.SinkReconnects.WithLabelValues(sink).Inc()
}

// RecordControlEvent counts a published control event.
func (m *Metrics) RecordControlEvent(event string) {
	m.ControlEvents.WithLabelValues(event).Inc()
}

// RecordNATSStatus updates NATS connection status
func (m *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	m.NATSConnected.Set(value)
}

// RecordNATSReconnect increments reconnection counter
func (m *Metrics) RecordNATSReconnect() {
	m.NATSReconnects.Inc()
}

// RecordCircuitBreakerState updates circuit breaker status
func (m *Metrics) RecordCircuitBreakerState(state int) {
	m.NATSCircuitBreaker.Set(float64(state))
}
