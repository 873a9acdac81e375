package replay

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robsok/dt-replay-demo/config"
	"github.com/robsok/dt-replay-demo/errors"
)

func writeCSV(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.csv")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func testDescriptor(id, source string) config.StreamDescriptor {
	return config.StreamDescriptor{
		ID:      id,
		Source:  source,
		Subject: "replay." + id,
		TimeCol: "ts",
	}
}

func TestLoader_Basic(t *testing.T) {
	source := writeCSV(t,
		"ts,machine,temp",
		"2024-01-15T10:00:02Z,M2,19.0",
		"2024-01-15T10:00:01Z,M1,21.5",
		"2024-01-15T10:00:03Z,M1,22.0",
	)

	loader := NewLoader(nil, nil)
	res, err := loader.Load(context.Background(), testDescriptor("machines", source))
	require.NoError(t, err)

	assert.Equal(t, "machines", res.Stream)
	assert.Equal(t, "replay.machines", res.Subject)
	assert.Equal(t, 3, res.RowsRead)
	require.Len(t, res.Records, 3)

	// Sorted ascending; untouched cells stay strings.
	assert.Equal(t, "M1", res.Records[0].Fields["machine"])
	assert.Equal(t, "M2", res.Records[1].Fields["machine"])
	assert.Equal(t, "21.5", res.Records[0].Fields["temp"])
	assert.True(t, res.Records[0].TS.Before(res.Records[1].TS))
	assert.True(t, res.Records[1].TS.Before(res.Records[2].TS))
	assert.Equal(t, []string{"ts", "machine", "temp"}, res.Records[0].Columns)

	// The raw time column stays in the emitted fields.
	assert.Equal(t, "2024-01-15T10:00:01Z", res.Records[0].Fields["ts"])
}

func TestLoader_Renames(t *testing.T) {
	source := writeCSV(t,
		"created_at,reading",
		"2024-01-15T10:00:01Z,42",
	)

	desc := testDescriptor("sensors", source)
	desc.Schema.Rename = map[string]string{"created_at": "ts", "reading": "value"}

	res, err := NewLoader(nil, nil).Load(context.Background(), desc)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	assert.Equal(t, "42", res.Records[0].Fields["value"])
	assert.Contains(t, res.Records[0].Fields, "ts")
	assert.NotContains(t, res.Records[0].Fields, "created_at")
}

func TestLoader_Coercions(t *testing.T) {
	source := writeCSV(t,
		"ts,temp,count,label,bad_float,fractional",
		"2024-01-15T10:00:01Z,21.5,3,A7,oops,3.5",
	)

	desc := testDescriptor("sensors", source)
	desc.Schema.Types = map[string]string{
		"temp":       "float",
		"count":      "int",
		"label":      "string",
		"bad_float":  "float",
		"fractional": "integer",
		"absent":     "float",   // column not in source: warn, skip
		"temp2":      "decimal", // unknown label: warn, skip
	}

	res, err := NewLoader(nil, nil).Load(context.Background(), desc)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	fields := res.Records[0].Fields
	assert.Equal(t, 21.5, fields["temp"])
	assert.Equal(t, int64(3), fields["count"])
	assert.Equal(t, "A7", fields["label"])
	// Best effort: values that do not parse keep their raw form, and
	// fractional values under an int coercion stay numeric.
	assert.Equal(t, "oops", fields["bad_float"])
	assert.Equal(t, 3.5, fields["fractional"])
}

func TestLoader_TimeColumnMissing(t *testing.T) {
	source := writeCSV(t,
		"created_at,value",
		"2024-01-15T10:00:01Z,1",
	)

	_, err := NewLoader(nil, nil).Load(context.Background(), testDescriptor("sensors", source))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTimeColumnMissing)
	assert.True(t, errors.IsInvalid(err))
	assert.Contains(t, err.Error(), "stream sensors")
	assert.Contains(t, err.Error(), "available: created_at, value")
}

func TestLoader_SourceNotFound(t *testing.T) {
	desc := testDescriptor("ghost", filepath.Join(t.TempDir(), "missing.csv"))

	_, err := NewLoader(nil, nil).Load(context.Background(), desc)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSourceNotFound)
}

func TestLoader_EmptySource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	_, err := NewLoader(nil, nil).Load(context.Background(), testDescriptor("empty", path))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSourceEmpty)
}

func TestLoader_HeaderOnly(t *testing.T) {
	source := writeCSV(t, "ts,value")

	res, err := NewLoader(nil, nil).Load(context.Background(), testDescriptor("quiet", source))
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	assert.Equal(t, 0, res.RowsRead)
}

func TestLoader_DropUnparseableTimestamps(t *testing.T) {
	source := writeCSV(t,
		"ts,value",
		"2024-01-15T10:00:01Z,a",
		"2024-01-15T10:00:02Z,b",
		"garbage,x",
		"2024-01-15T10:00:04Z,d",
		"2024-01-15T10:00:03Z,c",
	)

	res, err := NewLoader(nil, nil).Load(context.Background(), testDescriptor("events", source))
	require.NoError(t, err)

	assert.Equal(t, 5, res.RowsRead)
	assert.Equal(t, 1, res.DroppedNoTime)
	require.Len(t, res.Records, 4)

	for i, want := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, want, res.Records[i].Fields["value"])
	}
	for i := 1; i < len(res.Records); i++ {
		assert.True(t, res.Records[i-1].TS.Before(res.Records[i].TS))
	}
}

func TestLoader_RetainUnparseableTimestamps(t *testing.T) {
	source := writeCSV(t,
		"ts,value",
		"2024-01-15T10:00:02Z,b",
		"garbage,x",
		"2024-01-15T10:00:01Z,a",
	)

	retain := false
	desc := testDescriptor("events", source)
	desc.DropNATime = &retain

	res, err := NewLoader(nil, nil).Load(context.Background(), desc)
	require.NoError(t, err)

	assert.Equal(t, 1, res.RetainedNoTime)
	assert.Equal(t, 0, res.DroppedNoTime)
	require.Len(t, res.Records, 3)

	// Zero-timestamp rows sort first and never schedule.
	assert.False(t, res.Records[0].Schedulable())
	assert.Equal(t, "x", res.Records[0].Fields["value"])
	assert.Equal(t, "a", res.Records[1].Fields["value"])
	assert.Equal(t, "b", res.Records[2].Fields["value"])
	assert.Equal(t, 2, res.Schedulable())
}

func TestLoader_Filter(t *testing.T) {
	source := writeCSV(t,
		"ts,machine,temp",
		"2024-01-15T10:00:01Z,M1,21.5",
		"2024-01-15T10:00:02Z,M2,19.0",
		"2024-01-15T10:00:03Z,M1,22.0",
	)

	desc := testDescriptor("machines", source)
	desc.Filter = `row.machine == "M1"`

	res, err := NewLoader(nil, nil).Load(context.Background(), desc)
	require.NoError(t, err)

	assert.Equal(t, 1, res.DroppedFiltered)
	require.Len(t, res.Records, 2)
	for _, rec := range res.Records {
		assert.Equal(t, "M1", rec.Fields["machine"])
	}
}

func TestLoader_FilterSeesCoercedValues(t *testing.T) {
	source := writeCSV(t,
		"ts,temp",
		"2024-01-15T10:00:01Z,21.5",
		"2024-01-15T10:00:02Z,18.0",
	)

	desc := testDescriptor("sensors", source)
	desc.Schema.Types = map[string]string{"temp": "float"}
	desc.Filter = `row.temp > 20.0`

	res, err := NewLoader(nil, nil).Load(context.Background(), desc)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, 21.5, res.Records[0].Fields["temp"])
}

func TestLoader_FilterCompileError(t *testing.T) {
	source := writeCSV(t, "ts,value", "2024-01-15T10:00:01Z,1")

	desc := testDescriptor("events", source)
	desc.Filter = `row.value ==`

	_, err := NewLoader(nil, nil).Load(context.Background(), desc)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestLoader_KeepCols(t *testing.T) {
	source := writeCSV(t,
		"ts,a,b,c",
		"2024-01-15T10:00:01Z,1,2,3",
	)

	desc := testDescriptor("events", source)
	desc.KeepCols = []string{"a"}

	res, err := NewLoader(nil, nil).Load(context.Background(), desc)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	fields := res.Records[0].Fields
	assert.Contains(t, fields, "a")
	assert.Contains(t, fields, "ts") // time column always kept
	assert.NotContains(t, fields, "b")
	assert.NotContains(t, fields, "c")
	assert.Equal(t, []string{"ts", "a"}, res.Records[0].Columns)
}

func TestLoader_DropCols(t *testing.T) {
	source := writeCSV(t,
		"ts,a,b",
		"2024-01-15T10:00:01Z,1,2",
	)

	desc := testDescriptor("events", source)
	desc.DropCols = []string{"b", "ts"} // dropping the time column is ignored

	res, err := NewLoader(nil, nil).Load(context.Background(), desc)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	fields := res.Records[0].Fields
	assert.Contains(t, fields, "ts")
	assert.Contains(t, fields, "a")
	assert.NotContains(t, fields, "b")
}

func TestLoader_FilterRunsBeforeProjection(t *testing.T) {
	source := writeCSV(t,
		"ts,keep_me,internal",
		"2024-01-15T10:00:01Z,yes,secret",
		"2024-01-15T10:00:02Z,yes,other",
	)

	desc := testDescriptor("events", source)
	desc.KeepCols = []string{"keep_me"}
	desc.Filter = `row.internal == "secret"`

	res, err := NewLoader(nil, nil).Load(context.Background(), desc)
	require.NoError(t, err)

	// The filter saw the projected-away column; the output does not.
	require.Len(t, res.Records, 1)
	assert.NotContains(t, res.Records[0].Fields, "internal")
}

func TestLoader_ShortRows(t *testing.T) {
	source := writeCSV(t,
		"ts,a,b",
		"2024-01-15T10:00:01Z,1",
	)

	res, err := NewLoader(nil, nil).Load(context.Background(), testDescriptor("events", source))
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	assert.Contains(t, res.Records[0].Fields, "a")
	assert.NotContains(t, res.Records[0].Fields, "b")
}

func TestLoader_StableSortForEqualTimestamps(t *testing.T) {
	source := writeCSV(t,
		"ts,value",
		"2024-01-15T10:00:01Z,first",
		"2024-01-15T10:00:01Z,second",
		"2024-01-15T10:00:01Z,third",
	)

	res, err := NewLoader(nil, nil).Load(context.Background(), testDescriptor("events", source))
	require.NoError(t, err)
	require.Len(t, res.Records, 3)

	for i, want := range []string{"first", "second", "third"} {
		assert.Equal(t, want, res.Records[i].Fields["value"])
	}
}

func TestLoadAll(t *testing.T) {
	a := writeCSV(t, "ts,v", "2024-01-15T10:00:01Z,1")
	b := writeCSV(t, "ts,v", "2024-01-15T10:00:02Z,2", "2024-01-15T10:00:03Z,3")

	descs := []config.StreamDescriptor{
		testDescriptor("a", a),
		testDescriptor("b", b),
	}

	results, err := NewLoader(nil, nil).LoadAll(context.Background(), descs)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Results come back in descriptor order regardless of load timing.
	assert.Equal(t, "a", results[0].Stream)
	assert.Equal(t, "b", results[1].Stream)
	assert.Len(t, results[0].Records, 1)
	assert.Len(t, results[1].Records, 2)
}

func TestLoadAll_FailureCancelsBatch(t *testing.T) {
	good := writeCSV(t, "ts,v", "2024-01-15T10:00:01Z,1")

	descs := []config.StreamDescriptor{
		testDescriptor("good", good),
		testDescriptor("bad", filepath.Join(t.TempDir(), "missing.csv")),
	}

	_, err := NewLoader(nil, nil).LoadAll(context.Background(), descs)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSourceNotFound)
}

func TestLoader_Canceled(t *testing.T) {
	source := writeCSV(t, "ts,v", "2024-01-15T10:00:01Z,1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLoader(nil, nil).Load(ctx, testDescriptor("events", source))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadResult_Schedulable(t *testing.T) {
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	res := LoadResult{Records: []EventRecord{
		{TS: time.Time{}},
		{TS: base},
		{TS: base.Add(time.Second)},
	}}
	assert.Equal(t, 2, res.Schedulable())
}
