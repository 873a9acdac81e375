package replay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robsok/dt-replay-demo/errors"
)

func TestNewTimestampParser_UnknownTimezone(t *testing.T) {
	_, err := NewTimestampParser("", "Not/AZone")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestTimestampParser_ExplicitLayout(t *testing.T) {
	parser, err := NewTimestampParser("02/01/2006 15:04", "")
	require.NoError(t, err)

	ts, ok := parser.Parse("15/01/2024 10:30")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), ts)

	// Strict: a mismatching value is unparseable, not an error.
	_, ok = parser.Parse("2024-01-15T10:30:00Z")
	assert.False(t, ok)
}

func TestTimestampParser_ExplicitLayoutWithTimezone(t *testing.T) {
	parser, err := NewTimestampParser("2006-01-02 15:04:05", "America/New_York")
	require.NoError(t, err)

	// 10:30 EST is 15:30 UTC.
	ts, ok := parser.Parse("2024-01-15 10:30:00")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 15, 15, 30, 0, 0, time.UTC), ts)
	assert.Equal(t, time.UTC, ts.Location())
}

func TestTimestampParser_Tolerant(t *testing.T) {
	parser, err := NewTimestampParser("", "")
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{"rfc3339", "2024-01-15T10:00:00Z", time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)},
		{"rfc3339 nano", "2024-01-15T10:00:00.25Z", time.Date(2024, 1, 15, 10, 0, 0, 250000000, time.UTC)},
		{"rfc3339 offset", "2024-01-15T12:00:00+02:00", time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)},
		{"naive T", "2024-01-15T10:00:00", time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)},
		{"naive space", "2024-01-15 10:00:00", time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)},
		{"naive fraction", "2024-01-15 10:00:00.5", time.Date(2024, 1, 15, 10, 0, 0, 500000000, time.UTC)},
		{"date only", "2024-01-15", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"slash date", "2024/01/15 10:00:00", time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)},
		{"epoch seconds", "1705312800", time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)},
		{"epoch fractional", "1705312800.5", time.Date(2024, 1, 15, 10, 0, 0, 500000000, time.UTC)},
		{"whitespace", "  2024-01-15T10:00:00Z  ", time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, ok := parser.Parse(tt.raw)
			require.True(t, ok)
			assert.True(t, ts.Equal(tt.want), "got %v want %v", ts, tt.want)
			assert.Equal(t, time.UTC, ts.Location())
		})
	}
}

func TestTimestampParser_EpochMilliseconds(t *testing.T) {
	parser, err := NewTimestampParser("", "")
	require.NoError(t, err)

	ts, ok := parser.Parse("1705312800123")
	require.True(t, ok)
	assert.WithinDuration(t, time.Date(2024, 1, 15, 10, 0, 0, 123000000, time.UTC), ts, time.Millisecond)
}

func TestTimestampParser_NaiveLocalizedInZone(t *testing.T) {
	parser, err := NewTimestampParser("", "America/New_York")
	require.NoError(t, err)

	// Naive values pick up the configured zone before conversion.
	ts, ok := parser.Parse("2024-01-15 10:00:00")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 15, 15, 0, 0, 0, time.UTC), ts)

	// Zoned values keep their own offset.
	ts, ok = parser.Parse("2024-01-15T10:00:00+02:00")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC), ts)
}

func TestTimestampParser_Unparseable(t *testing.T) {
	parser, err := NewTimestampParser("", "")
	require.NoError(t, err)

	for _, raw := range []string{"", "   ", "not-a-time", "99:99:99"} {
		ts, ok := parser.Parse(raw)
		assert.False(t, ok, "raw %q", raw)
		assert.True(t, ts.IsZero())
	}
}
