package replay

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robsok/dt-replay-demo/emit"
	"github.com/robsok/dt-replay-demo/errors"
	"github.com/robsok/dt-replay-demo/metric"
)

const (
	// minSpeed is the floor a non-positive speed multiplier is coerced to.
	minSpeed = 0.0001

	// defaultGapCeiling caps the real wait between two emissions so a long
	// recorded idle period does not stall the replay.
	defaultGapCeiling = 2 * time.Second
)

// tieSeq is the process-wide tie-break counter. Records pushed into the
// merge heap take the next value, so events with equal timestamps replay
// in push order, repeatably across runs on identical input.
var tieSeq atomic.Uint64

// State is the scheduler lifecycle: Idle until armed, Armed once heads are
// staged, Running during the emit loop, Done when the heap drains. Done is
// terminal and reached exactly once; an aborted run stays in Running.
type State int32

const (
	StateIdle State = iota
	StateArmed
	StateRunning
	StateDone
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// EmittedEvent describes one successful emission: the owning stream, its
// destination, the event's own timestamp, and the 1-based global emission
// index. Handed to the emit hook for checkpointing.
type EmittedEvent struct {
	Stream  string
	Subject string
	TS      time.Time
	Seq     int64
}

// StreamProgress is one stream's emission progress for status reporting.
type StreamProgress struct {
	Stream  string `json:"stream"`
	Emitted int    `json:"emitted"`
	Total   int    `json:"total"`
}

type mergeCursor struct {
	stream  string
	subject string
	records []EventRecord
	next    int
}

type mergeItem struct {
	ts     time.Time
	tie    uint64
	cursor *mergeCursor
}

// mergeHeap orders items by (timestamp, tie-break sequence).
type mergeHeap []mergeItem

func (h mergeHeap) Len() int { return len(h) }

func (h mergeHeap) Less(i, j int) bool {
	if !h[i].ts.Equal(h[j].ts) {
		return h[i].ts.Before(h[j].ts)
	}
	return h[i].tie < h[j].tie
}

func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x any) { *h = append(*h, x.(mergeItem)) }

func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Scheduler merges loaded streams into one globally time-ordered emission
// sequence and paces it against the wall clock.
//
// Pacing: each event's ideal emission instant is
// wallStart + (ts - simStart)/speed. A wait above the gap ceiling is
// clamped to the ceiling and the wall anchor shifts by the skipped amount,
// so pacing after a compressed gap resumes at the configured speed instead
// of sprinting to catch up. A negative wait emits immediately; events are
// never dropped to catch up.
//
// The emit loop is a single sequential goroutine; the heap is never
// touched concurrently. A Scheduler drives at most one run.
type Scheduler struct {
	emitter    emit.Emitter
	logger     *slog.Logger
	metrics    *metric.Metrics
	speed      float64
	gapCeiling time.Duration
	onEmit     func(EmittedEvent)

	state atomic.Int32

	heap     mergeHeap
	cursors  []*mergeCursor
	simStart time.Time
	simEnd   time.Time
	total    int

	emitted atomic.Int64

	mu       sync.Mutex
	last     EmittedEvent
	hasLast  bool
	progress map[string]*StreamProgress
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSpeed sets the speed multiplier: simulated seconds per wall second.
// Non-positive values are coerced to a small floor.
func WithSpeed(speed float64) Option {
	return func(s *Scheduler) {
		s.speed = speed
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger.With("component", "scheduler")
		}
	}
}

// WithMetrics enables instrumentation. Nil disables it.
func WithMetrics(metrics *metric.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = metrics
	}
}

// WithEmitHook registers a callback invoked after every successful
// emission, in emission order. Checkpointing hangs off this hook; the
// hook must not block for long, it runs on the emit loop.
func WithEmitHook(hook func(EmittedEvent)) Option {
	return func(s *Scheduler) {
		s.onEmit = hook
	}
}

// withGapCeiling overrides the gap compression ceiling. Test hook.
func withGapCeiling(d time.Duration) Option {
	return func(s *Scheduler) {
		s.gapCeiling = d
	}
}

// NewScheduler creates a scheduler emitting through emitter. Default
// speed is 1.0.
func NewScheduler(emitter emit.Emitter, opts ...Option) *Scheduler {
	s := &Scheduler{
		emitter:    emitter,
		logger:     slog.Default().With("component", "scheduler"),
		speed:      1.0,
		gapCeiling: defaultGapCeiling,
		progress:   make(map[string]*StreamProgress),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.speed <= 0 {
		s.logger.Warn("Non-positive speed coerced to floor",
			"requested", s.speed, "floor", minSpeed)
		s.speed = minSpeed
	}
	return s
}

// Arm clips every loaded stream to the window and stages one head record
// per non-empty stream in the merge heap. Idle → Armed.
func (s *Scheduler) Arm(results []LoadResult, start, end time.Time) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateArmed)) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Scheduler", "Arm",
			"scheduler already armed")
	}

	for _, res := range results {
		clipped := Clip(res.Records, start, end)

		// Unparseable timestamps sort first; they never enter the merge.
		i := 0
		for i < len(clipped) && !clipped[i].Schedulable() {
			i++
		}
		schedulable := clipped[i:]

		s.mu.Lock()
		s.progress[res.Stream] = &StreamProgress{Stream: res.Stream, Total: len(schedulable)}
		s.mu.Unlock()

		if len(schedulable) == 0 {
			continue
		}

		cursor := &mergeCursor{
			stream:  res.Stream,
			subject: res.Subject,
			records: schedulable,
		}
		s.cursors = append(s.cursors, cursor)
		s.total += len(schedulable)

		heap.Push(&s.heap, mergeItem{
			ts:     schedulable[0].TS,
			tie:    tieSeq.Add(1),
			cursor: cursor,
		})

		if last := schedulable[len(schedulable)-1].TS; last.After(s.simEnd) {
			s.simEnd = last
		}
	}
	return nil
}

// Run drives the merge loop to completion: Armed → Running → Done. An
// empty heap completes immediately with no error. The first emitter
// failure aborts the run with the error propagated; LastEmitted is then
// the recovery point.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateArmed), int32(StateRunning)) {
		switch s.State() {
		case StateIdle:
			return errors.WrapInvalid(errors.ErrNotStarted, "Scheduler", "Run",
				"scheduler not armed")
		case StateDone:
			return errors.WrapInvalid(errors.ErrAlreadyDone, "Scheduler", "Run",
				"replay already completed")
		default:
			return errors.WrapInvalid(errors.ErrAlreadyStarted, "Scheduler", "Run",
				"run already in progress")
		}
	}

	if s.heap.Len() == 0 {
		s.logger.Info("No events to replay")
		s.state.Store(int32(StateDone))
		return nil
	}

	s.simStart = s.heap[0].ts
	wallStart := time.Now()
	span := s.simEnd.Sub(s.simStart)
	s.logger.Info("Replaying events",
		"from", s.simStart.Format(time.RFC3339),
		"to", s.simEnd.Format(time.RFC3339),
		"span_seconds", span.Seconds(),
		"events", s.total,
		"speed", s.speed,
		"estimated_seconds", span.Seconds()/s.speed)

	prevTS := s.simStart

	for s.heap.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "Scheduler", "Run", "replay")
		}

		item := heap.Pop(&s.heap).(mergeItem)
		cursor := item.cursor
		record := cursor.records[cursor.next]
		cursor.next++

		target := wallStart.Add(scaleDelta(item.ts.Sub(s.simStart), s.speed))
		sleep := time.Until(target)

		if sleep > s.gapCeiling {
			s.logger.Info("Large gap detected, capping wait",
				"gap_seconds", item.ts.Sub(prevTS).Seconds(),
				"cap_seconds", s.gapCeiling.Seconds())
			// Shift the anchor by the skipped wait so later events pace
			// from the compressed timeline, not the original one.
			wallStart = wallStart.Add(-(sleep - s.gapCeiling))
			sleep = s.gapCeiling
			if s.metrics != nil {
				s.metrics.RecordGapCompressed()
			}
		}

		if sleep > 0 {
			timer := time.NewTimer(sleep)
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.Wrap(ctx.Err(), "Scheduler", "Run", "replay")
			case <-timer.C:
			}
		} else if s.metrics != nil {
			s.metrics.RecordReplayLag(-sleep)
		}

		prevTS = item.ts

		event := emit.Event{TS: record.TS, Stream: record.Stream, Data: record.Fields}
		emitStart := time.Now()
		if err := s.emitter.Emit(ctx, cursor.subject, event); err != nil {
			if s.metrics != nil {
				s.metrics.RecordEventFailed(record.Stream)
			}
			s.logger.Error("Emit failed, aborting replay",
				"stream", record.Stream,
				"subject", cursor.subject,
				"emitted", s.emitted.Load(),
				"error", err)
			return errors.Wrap(err, "Scheduler", "Run",
				fmt.Sprintf("emit to %s", cursor.subject))
		}

		seq := s.emitted.Add(1)
		if s.metrics != nil {
			s.metrics.RecordEventEmitted(record.Stream)
			s.metrics.RecordEmitDuration(record.Stream, time.Since(emitStart))
		}

		emitted := EmittedEvent{
			Stream:  record.Stream,
			Subject: cursor.subject,
			TS:      record.TS,
			Seq:     seq,
		}
		s.mu.Lock()
		s.last = emitted
		s.hasLast = true
		if p := s.progress[record.Stream]; p != nil {
			p.Emitted++
		}
		s.mu.Unlock()

		if s.onEmit != nil {
			s.onEmit(emitted)
		}

		if cursor.next < len(cursor.records) {
			heap.Push(&s.heap, mergeItem{
				ts:     cursor.records[cursor.next].TS,
				tie:    tieSeq.Add(1),
				cursor: cursor,
			})
		}
	}

	s.state.Store(int32(StateDone))
	s.logger.Info("Done, all events replayed", "events", s.emitted.Load())
	return nil
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Speed returns the effective speed multiplier after floor coercion.
func (s *Scheduler) Speed() float64 {
	return s.speed
}

// Total returns how many events were staged for this run.
func (s *Scheduler) Total() int {
	return s.total
}

// Emitted returns how many events have been emitted so far.
func (s *Scheduler) Emitted() int64 {
	return s.emitted.Load()
}

// LastEmitted returns the most recently emitted event, false before the
// first emission. After an aborted run this is the recovery point.
func (s *Scheduler) LastEmitted() (EmittedEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasLast
}

// Progress returns a snapshot of per-stream emission progress, ordered by
// stream id.
func (s *Scheduler) Progress() []StreamProgress {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]StreamProgress, 0, len(s.progress))
	for _, p := range s.progress {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stream < out[j].Stream })
	return out
}

// scaleDelta converts a simulated interval to wall time at the given
// speed, saturating instead of overflowing on extreme spans.
func scaleDelta(delta time.Duration, speed float64) time.Duration {
	scaled := float64(delta) / speed
	if scaled > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(scaled)
}
