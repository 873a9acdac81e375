// Package buffer provides a small thread-safe ring buffer with
// overwrite-oldest semantics, used for bounded backlogs such as the live
// feed's replay-to-new-clients window.
package buffer

import "sync"

// Ring is a fixed-capacity buffer that overwrites its oldest item when
// full. The zero value is not usable; create one with NewRing.
type Ring[T any] struct {
	mu      sync.Mutex
	items   []T
	head    int // next write position
	size    int
	dropped uint64
}

// NewRing creates a ring with the given capacity. Capacities below one
// are raised to one.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Push adds an item, overwriting the oldest when the ring is full.
func (r *Ring[T]) Push(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[r.head] = item
	r.head = (r.head + 1) % len(r.items)
	if r.size < len(r.items) {
		r.size++
	} else {
		r.dropped++
	}
}

// Snapshot returns the buffered items oldest first.
func (r *Ring[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, 0, r.size)
	start := r.head - r.size
	if start < 0 {
		start += len(r.items)
	}
	for i := 0; i < r.size; i++ {
		out = append(out, r.items[(start+i)%len(r.items)])
	}
	return out
}

// Len returns the current number of buffered items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return len(r.items)
}

// Dropped returns how many items have been overwritten.
func (r *Ring[T]) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Clear removes all buffered items.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.size = 0
}
