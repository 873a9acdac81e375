package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTask mimics the archiver's unit of work: one event row bound for
// storage.
type writeTask struct {
	stream string
	seq    int64
	delay  time.Duration
	fail   bool
}

func TestNewPool(t *testing.T) {
	processor := func(_ context.Context, _ writeTask) error { return nil }

	pool := NewPool(5, 100, processor)
	assert.Equal(t, 5, pool.workers)
	assert.Equal(t, 100, pool.queueSize)

	// Zero values fall back to defaults.
	pool = NewPool(0, 100, processor)
	assert.Equal(t, 10, pool.workers)

	pool = NewPool(5, 0, processor)
	assert.Equal(t, 1000, pool.queueSize)
}

func TestNewPool_NilProcessor(t *testing.T) {
	assert.Panics(t, func() {
		NewPool[writeTask](5, 100, nil)
	})
}

func TestPool_StartStop(t *testing.T) {
	var processed int64
	pool := NewPool(2, 10, func(_ context.Context, _ writeTask) error {
		atomic.AddInt64(&processed, 1)
		return nil
	})

	ctx := context.Background()
	require.NoError(t, pool.Start(ctx))
	assert.Error(t, pool.Start(ctx), "second Start must fail")

	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(writeTask{stream: "orders", seq: int64(i)}))
	}

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, pool.Stop(5*time.Second))

	assert.Equal(t, int64(5), atomic.LoadInt64(&processed))
	assert.Error(t, pool.Submit(writeTask{seq: 999}), "submit after stop must fail")
}

func TestPool_QueueFull(t *testing.T) {
	pool := NewPool(1, 2, func(_ context.Context, task writeTask) error {
		time.Sleep(task.delay)
		return nil
	})

	require.NoError(t, pool.Start(context.Background()))
	defer func() { _ = pool.Stop(5 * time.Second) }()

	submitted, dropped := 0, 0
	for i := 0; i < 5; i++ {
		err := pool.Submit(writeTask{seq: int64(i), delay: 200 * time.Millisecond})
		if err != nil {
			dropped++
		} else {
			submitted++
		}
	}

	assert.Positive(t, dropped, "a 2-slot queue with slow workers must drop")
	assert.Positive(t, submitted)
	assert.Positive(t, pool.Stats().Dropped)
}

func TestPool_ProcessingErrors(t *testing.T) {
	var ok, failed int64
	pool := NewPool(2, 10, func(_ context.Context, task writeTask) error {
		if task.fail {
			atomic.AddInt64(&failed, 1)
			return errors.New("write failed")
		}
		atomic.AddInt64(&ok, 1)
		return nil
	})

	require.NoError(t, pool.Start(context.Background()))
	defer func() { _ = pool.Stop(5 * time.Second) }()

	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(writeTask{seq: int64(i), fail: i%2 == 0}))
	}

	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, int64(5), atomic.LoadInt64(&ok))
	assert.Equal(t, int64(5), atomic.LoadInt64(&failed))

	stats := pool.Stats()
	assert.Equal(t, int64(10), stats.Processed)
	assert.Equal(t, int64(5), stats.Failed)
}

func TestPool_ContextCancellation(t *testing.T) {
	var processed int64
	pool := NewPool(2, 10, func(ctx context.Context, task writeTask) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			time.Sleep(task.delay)
			atomic.AddInt64(&processed, 1)
			return nil
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, pool.Start(ctx))

	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(writeTask{seq: int64(i), delay: 50 * time.Millisecond}))
	}

	time.Sleep(10 * time.Millisecond)
	cancel()

	require.NoError(t, pool.Stop(5*time.Second))
	t.Logf("processed %d tasks before cancellation", atomic.LoadInt64(&processed))
}

func TestPool_ConcurrentSubmissions(t *testing.T) {
	var processed int64
	pool := NewPool(5, 100, func(_ context.Context, _ writeTask) error {
		atomic.AddInt64(&processed, 1)
		return nil
	})

	require.NoError(t, pool.Start(context.Background()))
	defer func() { _ = pool.Stop(5 * time.Second) }()

	var wg sync.WaitGroup
	const submitters, perSubmitter = 10, 10
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perSubmitter; j++ {
				assert.NoError(t, pool.Submit(writeTask{seq: int64(id*perSubmitter + j)}))
			}
		}(i)
	}
	wg.Wait()

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int64(submitters*perSubmitter), atomic.LoadInt64(&processed))
}

func TestPool_Stats(t *testing.T) {
	pool := NewPool(3, 50, func(ctx context.Context, _ writeTask) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
			return nil
		}
	})

	stats := pool.Stats()
	assert.Equal(t, 3, stats.Workers)
	assert.Equal(t, 50, stats.QueueSize)
	assert.Zero(t, stats.Submitted)

	require.NoError(t, pool.Start(context.Background()))
	defer func() { _ = pool.Stop(5 * time.Second) }()

	for i := 0; i < 10; i++ {
		_ = pool.Submit(writeTask{seq: int64(i)})
	}

	time.Sleep(50 * time.Millisecond)
	stats = pool.Stats()
	assert.Equal(t, int64(10), stats.Submitted)
	assert.Positive(t, stats.Processed)
	assert.LessOrEqual(t, stats.Processed, stats.Submitted)
}
