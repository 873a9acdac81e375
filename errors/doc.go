// Package errors provides standardized error handling patterns for replay
// components.
//
// # Overview
//
// The errors package implements a three-class error classification system:
// Transient (temporary, retryable), Invalid (bad input, non-retryable), and
// Fatal (unrecoverable, stop processing).
//
// The classes map onto the failure taxonomy of the replay pipeline:
//
//   - Transient: broker timeouts, lost connections, storage unavailability.
//     Emitter implementations may retry these at their own layer.
//   - Invalid: unparseable timestamps, rejected filter rows, duplicate
//     archive writes. Resolved per-row during loading, never retried.
//   - Fatal: missing timestamp columns, malformed configuration, aborted
//     runs. Surfaced before any event is emitted where possible.
//
// The classification system integrates with Go's standard error handling,
// supporting errors.Is(), errors.As(), and error wrapping chains.
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// Three wrapper functions provide classification-aware wrapping:
//
//	errors.WrapTransient(err, "NATSEmitter", "Emit", "publish event")
//	errors.WrapInvalid(err, "Loader", "Load", "coerce column")
//	errors.WrapFatal(err, "Scheduler", "Arm", "validate streams")
//
// The generic Wrap() function adds context without forcing a class:
//
//	errors.Wrap(err, "Archiver", "Start", "subscribe")
//
// # Standard Error Variables
//
// Pre-defined error variables cover the common conditions of the pipeline,
// organized by category:
//
//   - Component lifecycle: ErrAlreadyStarted, ErrNotStarted, ErrShuttingDown
//   - Connection issues: ErrNoConnection, ErrConnectionLost, ErrConnectionTimeout
//   - Stream loading: ErrTimeColumnMissing, ErrSourceNotFound, ErrUnparseableTime
//   - Scheduling: ErrReplayAborted, ErrAlreadyDone, ErrStreamNotFound
//   - Storage: ErrStorageUnavailable, ErrBucketNotFound, ErrDuplicateEvent
//
// Use these variables instead of creating custom error messages:
//
//	// Good - uses standard variable
//	if _, ok := header[cfg.TimeColumn]; !ok {
//	    return errors.ErrTimeColumnMissing
//	}
//
//	// Avoid - custom error message
//	if _, ok := header[cfg.TimeColumn]; !ok {
//	    return errors.New("timestamp column not found")
//	}
//
// # Retry Configuration
//
// RetryConfig provides classification-aware retry decisions and bridges to
// the retry package for execution:
//
//	cfg := errors.DefaultRetryConfig()
//	err := retry.Do(ctx, cfg.ToRetryConfig(), func() error {
//	    return emitter.Emit(ctx, dest, event)
//	})
//
// Only transient errors are retried; Invalid and Fatal classifications stop
// the loop immediately.
package errors
