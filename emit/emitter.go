// Package emit defines the event wire format and the sinks that replayed
// events are published through. The scheduler depends only on the Emitter
// contract; retry, rate limiting, and durability are implementation
// concerns.
package emit

import (
	"context"
	"time"
)

// Event is one replayed record as it travels to a sink. TS is the parsed
// source timestamp (UTC), Stream the originating stream id, Data the row's
// fields minus bookkeeping columns.
type Event struct {
	TS     time.Time
	Stream string
	Data   map[string]any
}

// Emitter delivers events to their destination. Implementations must be
// safe for sequential use from a single goroutine; an error return means
// the event was not delivered. The replay core treats any error as fatal
// to the run and never retries, so implementations that want resilience
// must build it in behind this interface.
type Emitter interface {
	Emit(ctx context.Context, destination string, event Event) error
}
