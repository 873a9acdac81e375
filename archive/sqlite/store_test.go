package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}

func TestStore_WriteAndCount(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := int64(0); i < 3; i++ {
		inserted, err := store.Write(ctx, Row{
			Run:    "run-1",
			Stream: "sensor-a",
			Seq:    i + 1,
			TS:     base.Add(time.Duration(i) * time.Second),
			Data:   []byte(`{"temp":21.5}`),
		})
		require.NoError(t, err)
		assert.True(t, inserted)
	}

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestStore_DuplicateWriteIsNoOp(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	row := Row{
		Run:    "run-1",
		Stream: "sensor-a",
		Seq:    1,
		TS:     time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Data:   []byte(`{"v":1}`),
	}

	inserted, err := store.Write(ctx, row)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Redelivery of the same (run, stream, seq) must not error or duplicate.
	inserted, err = store.Write(ctx, row)
	require.NoError(t, err)
	assert.False(t, inserted)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestStore_StreamCounts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := int64(1); i <= 4; i++ {
		_, err := store.Write(ctx, Row{Run: "r", Stream: "a", Seq: i, TS: base, Data: []byte(`{}`)})
		require.NoError(t, err)
	}
	_, err := store.Write(ctx, Row{Run: "r", Stream: "b", Seq: 1, TS: base, Data: []byte(`{}`)})
	require.NoError(t, err)

	counts, err := store.StreamCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"a": 4, "b": 1}, counts)
}

func TestStore_Recent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := int64(0); i < 5; i++ {
		_, err := store.Write(ctx, Row{
			Run:    "r",
			Stream: "a",
			Seq:    i + 1,
			TS:     base.Add(time.Duration(i) * time.Minute),
			Data:   []byte(`{}`),
		})
		require.NoError(t, err)
	}

	recent, err := store.Recent(ctx, "a", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	// Newest first.
	assert.Equal(t, base.Add(4*time.Minute), recent[0].TS)
	assert.Equal(t, base.Add(3*time.Minute), recent[1].TS)

	empty, err := store.Recent(ctx, "missing", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
