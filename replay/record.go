package replay

import "time"

// EventRecord is one loaded row: the owning stream, the parsed UTC
// instant, and the row's fields after renames, coercions, and projection.
// Columns preserves the source column order for the fields present.
//
// A zero TS marks a row whose timestamp could not be parsed; such rows are
// never scheduled but stay visible to callers when the stream retains them.
type EventRecord struct {
	Stream  string
	TS      time.Time
	Fields  map[string]any
	Columns []string
}

// Schedulable reports whether the record can participate in the
// time-ordered merge.
func (r EventRecord) Schedulable() bool {
	return !r.TS.IsZero()
}
