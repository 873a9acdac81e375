// Package health provides health monitoring for replay components and
// daemons with thread-safe status tracking and aggregation.
//
// # Health States
//
// The package supports three health states:
//   - Healthy: component operating normally
//   - Degraded: component operating with reduced functionality
//   - Unhealthy: component not functioning properly
//
// The three-state model lets operators distinguish "the emitter is slow"
// from "the emitter is down" when watching a long replay.
//
// # Core Components
//
// Status: individual component health state containing status level,
// descriptive message, timestamp, optional stats, and hierarchical
// sub-statuses.
//
// Monitor: thread-safe centralized tracking for multiple component health
// statuses with automatic timestamp management.
//
// # Basic Usage
//
//	monitor := health.NewMonitor()
//
//	monitor.UpdateHealthy("loader", "all streams loaded")
//	monitor.UpdateDegraded("emitter", "publish latency high")
//	monitor.UpdateUnhealthy("archiver", "store unavailable")
//
//	aggregate := monitor.AggregateHealth("dtreplay")
//	if aggregate.IsUnhealthy() {
//	    // surface through the status endpoint
//	}
//
// Error messages surfaced through health statuses are sanitized (URLs,
// paths, IPs, ports, credentials are masked) so broker addresses and file
// locations never leak through the operational endpoint.
package health
