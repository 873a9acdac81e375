// Package dtreplay replays recorded, timestamped event data from several
// independent tabular sources as if it were happening live, preserving the
// exact cross-source chronological interleaving while letting an operator
// compress or dilate elapsed time with a speed multiplier.
//
// # Architecture
//
// The repository is a small pipeline of focused packages connected over
// NATS:
//
//	┌──────────┐   ┌───────────┐   ┌──────────┐
//	│  Loader  │ → │ Scheduler │ → │ Emitter  │ → NATS subjects
//	│ (replay) │   │  (replay) │   │  (emit)  │
//	└──────────┘   └───────────┘   └──────────┘
//	                                    │
//	        ┌───────────────────────────┼───────────────────────────┐
//	        ↓                           ↓                           ↓
//	  ┌──────────┐                ┌──────────┐                ┌──────────┐
//	  │ archive  │                │   twin   │                │   feed   │
//	  │ (SQLite) │                │ (state)  │                │   (WS)   │
//	  └──────────┘                └──────────┘                └──────────┘
//
// The replay package is the core: it loads each stream's CSV rows,
// normalizes timestamps to UTC, clips them to the configured window,
// merges all streams through a priority heap keyed by timestamp with a
// stable tie-break, and paces emission so simulated time elapses speed
// times faster than wall-clock time, clamping long recorded gaps to a
// short real pause.
//
// Everything downstream of the Emitter contract is a consumer: the
// archiver persists events in SQLite, the twin tracker maintains
// per-entity state and SLA derivations, and the feed broadcasts events
// to WebSocket dashboards with backlog replay for late joiners.
//
// # Packages
//
// Core:
//   - replay: timestamp parsing, stream loading, window clipping, row
//     filters, the merge scheduler, and the continuous live mode
//   - emit: event wire format, JSON/MsgPack codecs, NATS and file sinks
//   - config: YAML configuration with env overrides and validation
//
// Consumers:
//   - archive (+ archive/sqlite): NATS to SQLite event archiver
//   - twin: digital-twin entity state tracker
//   - feed: WebSocket live feed
//
// Infrastructure:
//   - natsclient: NATS connection management with circuit breaker
//   - checkpoint: run checkpoints in NATS KV for resume-after-abort
//   - metric: prometheus registry and core metrics
//   - health: component health monitoring and aggregation
//   - service: operational HTTP endpoint (healthz, readyz, metrics, status)
//   - errors: classified errors carrying component.method context
//   - pkg/retry, pkg/worker, pkg/buffer: small reusable utilities
//
// # Binaries
//
//	cmd/dtreplay   replay driver (dry-run, live, and resume modes)
//	cmd/dtarchive  archiver daemon
//	cmd/dttwin     twin tracker daemon
package dtreplay
