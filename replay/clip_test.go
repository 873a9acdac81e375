package replay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func clipFixture(base time.Time, offsets ...time.Duration) []EventRecord {
	records := make([]EventRecord, len(offsets))
	for i, off := range offsets {
		records[i] = EventRecord{Stream: "s", TS: base.Add(off)}
	}
	return records
}

func TestClip(t *testing.T) {
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	records := clipFixture(base, 0, time.Second, 2*time.Second, 3*time.Second, 4*time.Second)

	tests := []struct {
		name       string
		start, end time.Time
		want       []time.Duration
	}{
		{"no bounds", time.Time{}, time.Time{}, []time.Duration{0, time.Second, 2 * time.Second, 3 * time.Second, 4 * time.Second}},
		{"start only", base.Add(2 * time.Second), time.Time{}, []time.Duration{2 * time.Second, 3 * time.Second, 4 * time.Second}},
		{"end only", time.Time{}, base.Add(2 * time.Second), []time.Duration{0, time.Second, 2 * time.Second}},
		{"both inclusive", base.Add(time.Second), base.Add(3 * time.Second), []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}},
		{"between records", base.Add(1500 * time.Millisecond), base.Add(3500 * time.Millisecond), []time.Duration{2 * time.Second, 3 * time.Second}},
		{"window after all", base.Add(time.Hour), time.Time{}, nil},
		{"window before all", time.Time{}, base.Add(-time.Hour), nil},
		{"empty window", base.Add(3 * time.Second), base.Add(time.Second), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Clip(records, tt.start, tt.end)
			assert.Len(t, got, len(tt.want))
			for i, off := range tt.want {
				assert.True(t, got[i].TS.Equal(base.Add(off)))
			}
		})
	}
}

func TestClip_Idempotent(t *testing.T) {
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	records := clipFixture(base, 0, time.Second, 2*time.Second, 3*time.Second)
	start, end := base.Add(time.Second), base.Add(2*time.Second)

	once := Clip(records, start, end)
	twice := Clip(once, start, end)
	assert.Equal(t, once, twice)
}

func TestClip_Empty(t *testing.T) {
	assert.Empty(t, Clip(nil, time.Time{}, time.Time{}))
	assert.Empty(t, Clip([]EventRecord{}, time.Now(), time.Now()))
}

func TestClip_PreservesOrderAndRecords(t *testing.T) {
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	records := []EventRecord{
		{Stream: "s", TS: base, Fields: map[string]any{"n": 1}},
		{Stream: "s", TS: base.Add(time.Second), Fields: map[string]any{"n": 2}},
		{Stream: "s", TS: base.Add(2 * time.Second), Fields: map[string]any{"n": 3}},
	}

	got := Clip(records, base, base.Add(2*time.Second))
	assert.Len(t, got, 3)
	for i, rec := range got {
		assert.Equal(t, i+1, rec.Fields["n"])
	}
}
