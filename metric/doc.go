// Package metric provides Prometheus-based metrics collection for the replay
// pipeline.
//
// The package offers a centralized metrics registry managing both core
// platform metrics (replay progress, loader counts, NATS health) and custom
// component-specific metrics. The HTTP exposition endpoint lives in the
// service package, which serves the registry alongside health and status.
//
// # Core Metrics
//
// NewMetricsRegistry automatically registers the core metrics under the
// "dtreplay" namespace:
//
//   - Replay progress: replay_events_emitted_total, replay_events_failed_total,
//     replay_emit_duration_seconds, replay_lag_seconds, replay_gaps_compressed_total
//   - Loading: loader_rows_loaded_total, loader_rows_dropped_total
//   - Service lifecycle: service_status (0=stopped .. 4=failed)
//   - NATS connectivity: nats_connected, nats_rtt_milliseconds,
//     nats_reconnects_total, nats_circuit_breaker
//   - Error tracking: errors_total
//
// Access core metrics through the registry:
//
//	registry := metric.NewMetricsRegistry()
//	core := registry.CoreMetrics()
//
//	core.RecordEventEmitted("sensor-a")
//	core.RecordRowsDropped("sensor-a", "unparseable_time", 3)
//	core.RecordReplayLag(120 * time.Millisecond)
//
// # Component-Specific Metrics
//
// Components register their own metrics through the MetricsRegistrar
// interface, keyed by component and metric name so double registration is
// caught early:
//
//	writes := prometheus.NewCounterVec(
//	    prometheus.CounterOpts{
//	        Namespace: metric.Namespace,
//	        Subsystem: "archive",
//	        Name:      "writes_total",
//	        Help:      "Events written to the archive store",
//	    },
//	    []string{"stream"},
//	)
//	err := registry.RegisterCounterVec("archiver", "writes_total", writes)
//
// Components accept a nil registry to mean "metrics disabled"; their
// newMetrics constructors return nil and every Record call checks for nil
// first. This keeps metrics strictly optional in tests and dry runs.
package metric
