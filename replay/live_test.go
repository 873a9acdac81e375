package replay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLivePublisher_StreamsUntilCanceled(t *testing.T) {
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	results := []LoadResult{loadedStream("a", base, 0, 0, 0)}

	em := &recordingEmitter{}
	pub := NewLivePublisher(em, WithInterval(time.Millisecond), WithSeed(1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pub.Run(ctx, results) }()

	// Passing 3 published events proves it loops past the first pass.
	require.Eventually(t, func() bool { return pub.Published() >= 5 },
		2*time.Second, 5*time.Millisecond)
	cancel()

	err := <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	calls := em.snapshot()
	assert.GreaterOrEqual(t, len(calls), 5)
	for _, call := range calls {
		assert.Equal(t, "replay.a", call.subject)
		assert.Equal(t, "a", call.event.Stream)
		assert.False(t, call.event.TS.IsZero())
	}
}

func TestLivePublisher_TimestampsSpacedByInterval(t *testing.T) {
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	results := []LoadResult{loadedStream("a", base, 0, 0, 0)}

	em := &recordingEmitter{failAt: 4} // stop after one full pass
	pub := NewLivePublisher(em, WithInterval(10*time.Millisecond), WithSeed(7))

	err := pub.Run(context.Background(), results)
	require.Error(t, err)

	calls := em.snapshot()
	require.Len(t, calls, 3)

	// Within a pass the synthetic timestamps step by exactly the interval.
	assert.Equal(t, 10*time.Millisecond, calls[1].event.TS.Sub(calls[0].event.TS))
	assert.Equal(t, 10*time.Millisecond, calls[2].event.TS.Sub(calls[1].event.TS))
}

func TestLivePublisher_DeterministicSeed(t *testing.T) {
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	run := func() []string {
		results := []LoadResult{
			loadedStream("a", base, 0, time.Second),
			loadedStream("b", base, 0),
		}
		em := &recordingEmitter{failAt: 4}
		pub := NewLivePublisher(em, WithInterval(time.Millisecond), WithSeed(42))
		_ = pub.Run(context.Background(), results)

		var order []string
		for _, call := range em.snapshot() {
			order = append(order, call.event.Stream)
		}
		return order
	}

	first := run()
	require.Len(t, first, 3)
	assert.Equal(t, first, run())
}

func TestLivePublisher_EmitterFailure(t *testing.T) {
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	results := []LoadResult{loadedStream("a", base, 0)}

	pub := NewLivePublisher(&recordingEmitter{failAt: 1}, WithInterval(time.Millisecond))
	err := pub.Run(context.Background(), results)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish to replay.a")
	assert.EqualValues(t, 0, pub.Published())
}

func TestLivePublisher_NoEvents(t *testing.T) {
	pub := NewLivePublisher(&recordingEmitter{}, WithInterval(time.Millisecond))

	require.NoError(t, pub.Run(context.Background(), nil))
	require.NoError(t, pub.Run(context.Background(), []LoadResult{{Stream: "empty"}}))
	assert.EqualValues(t, 0, pub.Published())
}
