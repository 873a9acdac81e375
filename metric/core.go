package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace is the prometheus namespace shared by all replay metrics.
const Namespace = "dtreplay"

// Metrics contains all platform-level metrics (not component-specific)
type Metrics struct {
	// Service metrics
	ServiceStatus     *prometheus.GaugeVec
	EventsEmitted     *prometheus.CounterVec
	EventsFailed      *prometheus.CounterVec
	RowsLoaded        *prometheus.CounterVec
	RowsDropped       *prometheus.CounterVec
	EmitDuration      *prometheus.HistogramVec
	ReplayLag         prometheus.Gauge
	GapsCompressed    prometheus.Counter
	ErrorsTotal       *prometheus.CounterVec
	HealthCheckStatus *prometheus.GaugeVec

	// NATS metrics
	NATSConnected      prometheus.Gauge
	NATSRTT            prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ServiceStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "service",
				Name:      "status",
				Help:      "Service status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			},
			[]string{"service"},
		),

		EventsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "replay",
				Name:      "events_emitted_total",
				Help:      "Total number of events emitted, by stream",
			},
			[]string{"stream"},
		),

		EventsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "replay",
				Name:      "events_failed_total",
				Help:      "Total number of events that failed to emit, by stream",
			},
			[]string{"stream"},
		),

		RowsLoaded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "loader",
				Name:      "rows_loaded_total",
				Help:      "Total number of rows loaded from sources, by stream",
			},
			[]string{"stream"},
		),

		RowsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "loader",
				Name:      "rows_dropped_total",
				Help:      "Total number of rows dropped during loading, by stream and reason",
			},
			[]string{"stream", "reason"},
		),

		EmitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "replay",
				Name:      "emit_duration_seconds",
				Help:      "Emitter transmit duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stream"},
		),

		ReplayLag: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "replay",
				Name:      "lag_seconds",
				Help:      "How far the scheduler is behind its ideal wall-clock schedule",
			},
		),

		GapsCompressed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "replay",
				Name:      "gaps_compressed_total",
				Help:      "Number of inter-event waits clamped to the gap ceiling",
			},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"service", "type"},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"service"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSRTT: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "rtt_milliseconds",
				Help:      "NATS round-trip time in milliseconds",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),

		NATSCircuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "circuit_breaker",
				Help:      "NATS circuit breaker status (0=closed, 1=open, 2=half-open)",
			},
		),
	}
}

// RecordServiceStatus updates service status metric
func (c *Metrics) RecordServiceStatus(service string, status int) {
	c.ServiceStatus.WithLabelValues(service).Set(float64(status))
}

// RecordEventEmitted increments the emitted event counter for a stream
func (c *Metrics) RecordEventEmitted(stream string) {
	c.EventsEmitted.WithLabelValues(stream).Inc()
}

// RecordEventFailed increments the failed event counter for a stream
func (c *Metrics) RecordEventFailed(stream string) {
	c.EventsFailed.WithLabelValues(stream).Inc()
}

// RecordRowsLoaded adds to the loaded row counter for a stream
func (c *Metrics) RecordRowsLoaded(stream string, n int) {
	c.RowsLoaded.WithLabelValues(stream).Add(float64(n))
}

// RecordRowsDropped adds to the dropped row counter for a stream
func (c *Metrics) RecordRowsDropped(stream, reason string, n int) {
	c.RowsDropped.WithLabelValues(stream, reason).Add(float64(n))
}

// RecordEmitDuration records one emitter transmit duration
func (c *Metrics) RecordEmitDuration(stream string, duration time.Duration) {
	c.EmitDuration.WithLabelValues(stream).Observe(duration.Seconds())
}

// RecordReplayLag updates the scheduler lag gauge
func (c *Metrics) RecordReplayLag(lag time.Duration) {
	c.ReplayLag.Set(lag.Seconds())
}

// RecordGapCompressed increments the clamped-wait counter
func (c *Metrics) RecordGapCompressed() {
	c.GapsCompressed.Inc()
}

// RecordError increments error counter
func (c *Metrics) RecordError(service, errorType string) {
	c.ErrorsTotal.WithLabelValues(service, errorType).Inc()
}

// RecordHealthStatus updates health check status
func (c *Metrics) RecordHealthStatus(service string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	c.HealthCheckStatus.WithLabelValues(service).Set(value)
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSRTT updates NATS round-trip time
func (c *Metrics) RecordNATSRTT(rtt time.Duration) {
	c.NATSRTT.Set(float64(rtt.Milliseconds()))
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

// RecordCircuitBreakerState updates circuit breaker status
func (c *Metrics) RecordCircuitBreakerState(state int) {
	c.NATSCircuitBreaker.Set(float64(state))
}
