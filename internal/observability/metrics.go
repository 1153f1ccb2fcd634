package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	apiRequestsTotal  *prometheus.CounterVec
	apiLatencySeconds *prometheus.HistogramVec
	apiErrorsTotal    *prometheus.CounterVec

	messagesSentTotal        *prometheus.CounterVec
	fanoutEventsTotal        *prometheus.CounterVec
	fanoutDroppedTotal       prometheus.Counter
	realtimeConnectionsTotal prometheus.Counter
	realtimeConnectionsGauge prometheus.Gauge
	readAcksTotal            prometheus.Counter
	presenceTransitionsTotal *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors for the messaging engine.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		messagesSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_messages_sent_total",
			Help: "Messages appended to conversation logs, by type.",
		}, []string{"type"})

		fanoutEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_fanout_events_total",
			Help: "Realtime events broadcast to rooms, by event name.",
		}, []string{"event"})

		fanoutDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_fanout_dropped_total",
			Help: "Events dropped because a connection's send buffer was full.",
		})

		realtimeConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_connections_total",
			Help: "Websocket connections accepted since start.",
		})

		realtimeConnectionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_connections_active",
			Help: "Currently attached websocket connections.",
		})

		readAcksTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_read_acks_total",
			Help: "Read acknowledgements that advanced a read cursor.",
		})

		presenceTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_presence_transitions_total",
			Help: "Presence transitions, by resulting state.",
		}, []string{"state"})

		prometheus.MustRegister(
			apiRequestsTotal, apiLatencySeconds, apiErrorsTotal,
			messagesSentTotal, fanoutEventsTotal, fanoutDroppedTotal,
			realtimeConnectionsTotal, realtimeConnectionsGauge,
			readAcksTotal, presenceTransitionsTotal,
		)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// MessagesSent exposes the per-type message counter.
func MessagesSent() *prometheus.CounterVec {
	RegisterMetrics()
	return messagesSentTotal
}

// FanoutEvents exposes the per-event broadcast counter.
func FanoutEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return fanoutEventsTotal
}

// FanoutDropped exposes the slow-consumer drop counter.
func FanoutDropped() prometheus.Counter {
	RegisterMetrics()
	return fanoutDroppedTotal
}

// ConnectionsAccepted exposes the lifetime connection counter.
func ConnectionsAccepted() prometheus.Counter {
	RegisterMetrics()
	return realtimeConnectionsTotal
}

// ConnectionsActive exposes the active connection gauge.
func ConnectionsActive() prometheus.Gauge {
	RegisterMetrics()
	return realtimeConnectionsGauge
}

// ReadAcks exposes the advanced-read-cursor counter.
func ReadAcks() prometheus.Counter {
	RegisterMetrics()
	return readAcksTotal
}

// PresenceTransitions exposes the presence state transition counter.
func PresenceTransitions() *prometheus.CounterVec {
	RegisterMetrics()
	return presenceTransitionsTotal
}
