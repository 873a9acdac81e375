package twin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robsok/dt-replay-demo/emit"
	"github.com/robsok/dt-replay-demo/natsclient"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	tr, err := New(&natsclient.Client{}, Config{
		Subjects: []string{"orders.events"},
		SLA:      2 * time.Hour,
	})
	require.NoError(t, err)
	return tr
}

func orderEvent(id, status string, ts time.Time) emit.Event {
	return emit.Event{
		TS:     ts,
		Stream: "orders",
		Data:   map[string]any{"order_id": id, "status": status},
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Config{Subjects: []string{"orders.events"}})
	assert.Error(t, err)

	_, err = New(&natsclient.Client{}, Config{})
	assert.Error(t, err)
}

func TestNew_Defaults(t *testing.T) {
	tr, err := New(&natsclient.Client{}, Config{Subjects: []string{"orders.events"}})
	require.NoError(t, err)

	assert.Equal(t, "order_id", tr.cfg.EntityField)
	assert.Equal(t, "status", tr.cfg.StatusField)
	assert.Equal(t, DefaultSLA, tr.cfg.SLA)
}

func TestTracker_AppliesStatusTransitions(t *testing.T) {
	tr := newTestTracker(t)
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	tr.Apply(orderEvent("ord-1", StatusCreated, base))
	tr.Apply(orderEvent("ord-1", "Shipped", base.Add(time.Hour)))
	tr.Apply(orderEvent("ord-2", StatusCreated, base.Add(10*time.Minute)))

	assert.Equal(t, int64(3), tr.Processed())

	s, ok := tr.Get("ord-1")
	require.True(t, ok)
	assert.Equal(t, "Shipped", s.Status)
	assert.Equal(t, base, s.Timestamps[StatusCreated])

	snapshot := tr.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "ord-1", snapshot[0].ID)
	assert.Equal(t, "ord-2", snapshot[1].ID)
}

func TestTracker_SkipsEventsWithoutEntityOrStatus(t *testing.T) {
	tr := newTestTracker(t)
	ts := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	tr.Apply(emit.Event{TS: ts, Stream: "orders", Data: map[string]any{"status": "Created"}})
	tr.Apply(emit.Event{TS: ts, Stream: "orders", Data: map[string]any{"order_id": "ord-1"}})
	tr.Apply(emit.Event{TS: ts, Stream: "orders", Data: map[string]any{"order_id": "ord-1", "status": 7}})

	assert.Zero(t, tr.Processed())
	assert.Equal(t, int64(3), tr.skipped.Load())
	assert.Empty(t, tr.Snapshot())
}

func TestTracker_HandleMessageDecodes(t *testing.T) {
	tr := newTestTracker(t)
	ts := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	payload, err := emit.JSONCodec{}.Encode(orderEvent("ord-9", StatusCreated, ts))
	require.NoError(t, err)
	tr.handleMessage(context.Background(), payload)

	s, ok := tr.Get("ord-9")
	require.True(t, ok)
	assert.Equal(t, StatusCreated, s.Status)

	tr.handleMessage(context.Background(), []byte("garbage"))
	assert.Equal(t, int64(1), tr.skipped.Load())
}

func TestTracker_SnapshotIsACopy(t *testing.T) {
	tr := newTestTracker(t)
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	tr.Apply(orderEvent("ord-1", StatusCreated, base))

	s, ok := tr.Get("ord-1")
	require.True(t, ok)
	s.Timestamps["Mutated"] = base

	fresh, _ := tr.Get("ord-1")
	assert.NotContains(t, fresh.Timestamps, "Mutated")
}

func TestTracker_Health(t *testing.T) {
	tr := newTestTracker(t)
	assert.True(t, tr.Health().IsUnhealthy())

	tr.mu.Lock()
	tr.running = true
	tr.mu.Unlock()
	assert.True(t, tr.Health().IsHealthy())
}
