package worker

import "errors"

// Pool sentinel errors. Returned unwrapped so callers match them with
// errors.Is (or direct comparison).
var (
	// ErrPoolNotStarted is returned by Submit before Start.
	ErrPoolNotStarted = errors.New("worker pool not started")

	// ErrPoolStopped is returned by Submit after Stop.
	ErrPoolStopped = errors.New("worker pool stopped")

	// ErrPoolAlreadyStarted is returned by a second Start.
	ErrPoolAlreadyStarted = errors.New("worker pool already started")

	// ErrQueueFull signals backpressure: the bounded queue is at capacity.
	ErrQueueFull = errors.New("worker pool queue full")

	// ErrNilProcessor is the panic value for a nil processor function.
	ErrNilProcessor = errors.New("processor function cannot be nil")

	// ErrStopTimeout means workers were still running when the Stop
	// timeout elapsed.
	ErrStopTimeout = errors.New("timeout waiting for workers to stop")
)
