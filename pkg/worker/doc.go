// Package worker provides a generic, thread-safe worker pool for concurrent
// task processing.
//
// # Overview
//
// The pool manages a fixed number of goroutines that process work items of
// any type T from a bounded channel:
//   - Generic type support for type-safe work processing
//   - Bounded queue with backpressure (non-blocking submit)
//   - Context-aware cancellation and graceful shutdown
//   - Always-on atomic statistics plus optional Prometheus metrics
//
// The archiver uses a pool to decouple NATS message handling from SQLite
// writes: the subscription handler decodes and submits, workers persist.
//
// # Usage
//
//	type row struct {
//	    Stream string
//	    Data   []byte
//	}
//
//	pool := worker.NewPool[row](
//	    4,    // workers
//	    1024, // queue size
//	    func(ctx context.Context, r row) error {
//	        return store.Write(ctx, r)
//	    },
//	)
//
//	if err := pool.Start(ctx); err != nil {
//	    return err
//	}
//	defer pool.Stop(5 * time.Second)
//
//	if err := pool.Submit(r); err != nil {
//	    if errors.Is(err, worker.ErrQueueFull) {
//	        // workers can't keep up; drop or back off
//	    }
//	}
//
// With Prometheus metrics:
//
//	registry := metric.NewMetricsRegistry()
//	pool := worker.NewPool[row](4, 1024, process,
//	    worker.WithMetricsRegistry[row](registry, "archive_writer"))
//
// Exposes <name>_queue_depth, <name>_utilization, and counters for
// submitted, processed, failed, and dropped items, plus a processing
// duration histogram by status.
//
// # Semantics
//
// Submit is non-blocking: when the queue is full it returns ErrQueueFull
// immediately rather than stalling the caller. A full queue is the
// backpressure signal.
//
// Stop(timeout) closes the work channel, lets workers drain remaining
// items, and waits up to timeout; ErrStopTimeout means workers were still
// running. Per-item timeouts belong in the processor function via its
// context.
//
// Worker count is fixed at creation. There is no dynamic scaling, no
// priority ordering, and no cancellation of individual queued items.
//
// # Thread Safety
//
// All public methods are safe for concurrent use. Submit is lock-free on
// the channel; Start and Stop are serialized by a lifecycle mutex; Stats
// reads atomics without locks. Start can only be called once and Stop is
// idempotent.
//
// Pool errors are plain sentinels (ErrPoolNotStarted, ErrQueueFull, ...)
// rather than classified errors: they are either programming errors or
// resource exhaustion, and callers match them with errors.Is.
package worker
