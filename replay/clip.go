package replay

import (
	"sort"
	"time"
)

// Clip restricts sorted records to the inclusive [start, end] window. A
// zero bound leaves that side open. The input must be sorted ascending by
// timestamp; the returned slice is a sub-slice of the input, order
// preserved, and clipping again with the same bounds is a no-op.
func Clip(records []EventRecord, start, end time.Time) []EventRecord {
	if len(records) == 0 {
		return records
	}

	lo := 0
	if !start.IsZero() {
		lo = sort.Search(len(records), func(i int) bool {
			return !records[i].TS.Before(start)
		})
	}
	hi := len(records)
	if !end.IsZero() {
		hi = sort.Search(len(records), func(i int) bool {
			return records[i].TS.After(end)
		})
	}
	if lo >= hi {
		return nil
	}
	return records[lo:hi]
}
