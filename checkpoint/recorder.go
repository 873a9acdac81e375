package checkpoint

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robsok/dt-replay-demo/errors"
	"github.com/robsok/dt-replay-demo/replay"
)

const (
	defaultSaveInterval = time.Second
	defaultSaveTimeout  = 3 * time.Second
)

// Saver persists checkpoints. *Store implements it.
type Saver interface {
	Save(ctx context.Context, cp Checkpoint) error
}

// Recorder feeds the scheduler's emit hook into a Saver without ever
// blocking the replay loop. Record is cheap and non-blocking; saves run
// on a background goroutine and are coalesced, so when the store is
// slower than the emit rate only the newest checkpoint is written. Save
// failures are logged and swallowed: losing a checkpoint must not abort
// a replay.
type Recorder struct {
	saver    Saver
	runID    string
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	closed  bool
	pending chan Checkpoint
	flush   chan struct{}
	done    chan struct{}
	saved   atomic.Int64
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithSaveInterval sets the minimum spacing between checkpoint writes.
// Zero saves after every recorded event.
func WithSaveInterval(interval time.Duration) RecorderOption {
	return func(r *Recorder) {
		if interval >= 0 {
			r.interval = interval
		}
	}
}

// WithSaveTimeout bounds each individual save.
func WithSaveTimeout(timeout time.Duration) RecorderOption {
	return func(r *Recorder) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// WithRecorderLogger sets the recorder's logger.
func WithRecorderLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// NewRecorder starts a recorder for one run. Close it after the replay
// finishes to flush the final checkpoint.
func NewRecorder(saver Saver, runID string, opts ...RecorderOption) (*Recorder, error) {
	if saver == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"CheckpointRecorder", "NewRecorder", "nil saver")
	}
	if runID == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"CheckpointRecorder", "NewRecorder", "run id")
	}

	r := &Recorder{
		saver:    saver,
		runID:    runID,
		interval: defaultSaveInterval,
		timeout:  defaultSaveTimeout,
		logger:   slog.Default(),
		pending:  make(chan Checkpoint, 1),
		flush:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "checkpoint", "run_id", runID)

	go r.loop()
	return r, nil
}

// Record notes a successful emission as the run's newest recovery
// point. Its signature matches the scheduler's emit hook, so it can be
// passed to replay.WithEmitHook directly.
func (r *Recorder) Record(ev replay.EmittedEvent) {
	cp := Checkpoint{
		RunID:   r.runID,
		Stream:  ev.Stream,
		TS:      ev.TS,
		Seq:     ev.Seq,
		Emitted: ev.Seq,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	// Newest wins: displace whatever is still waiting to be written.
	select {
	case <-r.pending:
	default:
	}
	r.pending <- cp
}

// Saved reports how many checkpoints have been written so far.
func (r *Recorder) Saved() int64 {
	return r.saved.Load()
}

// Close flushes any pending checkpoint and stops the recorder. It is
// safe to call more than once.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.flush)
	close(r.pending)
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "CheckpointRecorder", "Close",
			"flush final checkpoint")
	}
}

func (r *Recorder) loop() {
	defer close(r.done)

	var lastSave time.Time
	for cp := range r.pending {
		if wait := r.interval - time.Since(lastSave); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-r.flush:
				timer.Stop()
			}
			// A newer checkpoint may have arrived while pacing.
			select {
			case newer, ok := <-r.pending:
				if ok {
					cp = newer
				}
			default:
			}
		}
		r.save(cp)
		lastSave = time.Now()
	}
}

func (r *Recorder) save(cp Checkpoint) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.saver.Save(ctx, cp); err != nil {
		r.logger.Warn("Checkpoint save failed, replay continues",
			"stream", cp.Stream, "seq", cp.Seq, "error", err)
		return
	}
	r.saved.Add(1)
	r.logger.Debug("Checkpoint saved", "stream", cp.Stream, "seq", cp.Seq, "ts", cp.TS)
}
