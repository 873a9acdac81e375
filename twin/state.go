// Package twin maintains a live state model of the entities whose events
// are being replayed. It subscribes to replayed order events and tracks,
// per entity, the latest status and the timestamp of every status
// transition, deriving lead time and SLA breach once a terminal status
// arrives.
package twin

import (
	"time"
)

// Status values with derived semantics. Lead time runs from StatusCreated
// to StatusDelivered.
const (
	StatusUnknown   = "Unknown"
	StatusCreated   = "Created"
	StatusDelivered = "Delivered"
)

// EntityState is the tracked state of one entity. Timestamps maps each
// observed status to the event time at which it was first reached;
// a status seen again overwrites its timestamp.
type EntityState struct {
	ID         string               `json:"id"`
	Status     string               `json:"status"`
	Timestamps map[string]time.Time `json:"timestamps"`
	SLA        time.Duration        `json:"sla"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

// newEntityState creates state for an entity first seen now.
func newEntityState(id string, sla time.Duration) *EntityState {
	return &EntityState{
		ID:         id,
		Status:     StatusUnknown,
		Timestamps: make(map[string]time.Time),
		SLA:        sla,
	}
}

// Update applies one status transition observed at ts.
func (s *EntityState) Update(status string, ts time.Time) {
	s.Status = status
	s.Timestamps[status] = ts
	s.UpdatedAt = ts
}

// LeadTime returns the Created-to-Delivered duration. The second return
// is false until both statuses have been observed.
func (s *EntityState) LeadTime() (time.Duration, bool) {
	created, okC := s.Timestamps[StatusCreated]
	delivered, okD := s.Timestamps[StatusDelivered]
	if !okC || !okD {
		return 0, false
	}
	return delivered.Sub(created), true
}

// SLABreached reports whether the lead time exceeded the SLA window. The
// second return is false while the lead time is still unknown.
func (s *EntityState) SLABreached() (bool, bool) {
	lt, ok := s.LeadTime()
	if !ok {
		return false, false
	}
	return lt > s.SLA, true
}

// clone returns a deep copy safe to hand outside the tracker's lock.
func (s *EntityState) clone() EntityState {
	out := *s
	out.Timestamps = make(map[string]time.Time, len(s.Timestamps))
	for k, v := range s.Timestamps {
		out.Timestamps[k] = v
	}
	return out
}
