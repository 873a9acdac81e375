// Package archive subscribes to replayed events on NATS and persists them
// in a SQLite archive so a run can be inspected or re-driven after the
// fact. Decoding happens on the subscription callback; writes go through a
// worker pool so a slow disk never blocks the broker connection.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robsok/dt-replay-demo/archive/sqlite"
	"github.com/robsok/dt-replay-demo/emit"
	"github.com/robsok/dt-replay-demo/errors"
	"github.com/robsok/dt-replay-demo/health"
	"github.com/robsok/dt-replay-demo/metric"
	"github.com/robsok/dt-replay-demo/natsclient"
	"github.com/robsok/dt-replay-demo/pkg/worker"
)

// queueGroup is the NATS queue group shared by archiver instances so
// multiple archivers split the subject load instead of duplicating rows.
const queueGroup = "archive"

// statusInterval is how often the archiver logs its running counters.
const statusInterval = 30 * time.Second

// Config holds archiver construction parameters.
type Config struct {
	// Subjects to subscribe to, typically a wildcard like "lab.>".
	Subjects []string
	// Run labels every archived row. Empty means the caller did not pin a
	// run identity and rows are grouped under "live".
	Run string
	// Workers and QueueSize size the write pool.
	Workers   int
	QueueSize int
}

// Archiver bridges NATS subjects into the SQLite archive.
type Archiver struct {
	client *natsclient.Client
	store  *sqlite.Store
	codec  emit.Codec
	cfg    Config
	logger *slog.Logger

	pool    *worker.Pool[sqlite.Row]
	metrics *archiveMetrics

	// Per-stream sequence assignment. The wire event carries no sequence,
	// so the archiver numbers events per (run, stream) at ingest; the
	// store's primary key then makes pool retries idempotent.
	seqMu sync.Mutex
	seqs  map[string]int64

	received  atomic.Int64
	written   atomic.Int64
	failed    atomic.Int64
	duplicate atomic.Int64

	lifecycleMu sync.Mutex
	mu          sync.RWMutex
	running     bool
	shutdown    chan struct{}
	done        chan struct{}
	wg          sync.WaitGroup
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithCodec sets the wire decoding. Defaults to JSON.
func WithCodec(codec emit.Codec) Option {
	return func(a *Archiver) {
		if codec != nil {
			a.codec = codec
		}
	}
}

// WithLogger sets the archiver logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archiver) {
		if logger != nil {
			a.logger = logger.With("component", "archiver")
		}
	}
}

// WithMetricsRegistry enables prometheus metrics. Nil disables them.
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(a *Archiver) {
		a.metrics = newArchiveMetrics(registry)
	}
}

// New creates an archiver over an established client and an open store.
func New(client *natsclient.Client, store *sqlite.Store, cfg Config, opts ...Option) (*Archiver, error) {
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Archiver", "New",
			"nats client is required")
	}
	if store == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Archiver", "New",
			"archive store is required")
	}
	if len(cfg.Subjects) == 0 {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Archiver", "New",
			"at least one subject is required")
	}
	if cfg.Run == "" {
		cfg.Run = "live"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}

	a := &Archiver{
		client: client,
		store:  store,
		codec:  emit.JSONCodec{},
		cfg:    cfg,
		logger: slog.Default().With("component", "archiver"),
		seqs:   make(map[string]int64),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.pool = worker.NewPool(cfg.Workers, cfg.QueueSize, a.writeRow)
	return a, nil
}

// Initialize verifies the store is reachable before Start subscribes.
func (a *Archiver) Initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := a.store.Count(ctx); err != nil {
		return errors.WrapTransient(err, "Archiver", "Initialize", "probe archive store")
	}
	return nil
}

// Start begins the write pool, subscribes to the configured subjects, and
// launches the status loop.
func (a *Archiver) Start(ctx context.Context) error {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()

	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Archiver", "Start", "start archiver")
	}
	a.shutdown = make(chan struct{})
	a.done = make(chan struct{})
	a.running = true
	a.mu.Unlock()

	if err := a.pool.Start(ctx); err != nil {
		a.markStopped()
		return errors.Wrap(err, "Archiver", "Start", "start write pool")
	}

	for _, subject := range a.cfg.Subjects {
		if err := a.client.QueueSubscribe(ctx, subject, queueGroup, a.handleMessage); err != nil {
			a.markStopped()
			return errors.Wrap(err, "Archiver", "Start",
				fmt.Sprintf("subscribe %s", subject))
		}
	}

	a.wg.Add(1)
	go a.statusLoop()

	a.logger.Info("archiver started",
		"subjects", a.cfg.Subjects,
		"run", a.cfg.Run,
		"workers", a.cfg.Workers)
	return nil
}

// Stop drains the write pool and stops the status loop. Subscriptions are
// torn down with the client connection, which the caller owns.
func (a *Archiver) Stop(timeout time.Duration) error {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()

	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	close(a.shutdown)
	a.mu.Unlock()

	waited := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(timeout):
		a.markStopped()
		return errors.WrapTransient(errors.ErrConnectionTimeout, "Archiver", "Stop",
			"wait for status loop")
	}

	err := a.pool.Stop(timeout)
	a.markStopped()

	a.logger.Info("archiver stopped",
		"received", a.received.Load(),
		"written", a.written.Load(),
		"duplicates", a.duplicate.Load(),
		"failed", a.failed.Load())

	if err != nil {
		return errors.WrapTransient(err, "Archiver", "Stop", "drain write pool")
	}
	return nil
}

func (a *Archiver) markStopped() {
	a.mu.Lock()
	a.running = false
	select {
	case <-a.done:
	default:
		if a.done != nil {
			close(a.done)
		}
	}
	a.mu.Unlock()
}

// Health reports archiver liveness and counters.
func (a *Archiver) Health() health.Status {
	a.mu.RLock()
	running := a.running
	a.mu.RUnlock()

	stats := &health.Stats{
		EventsHandled: a.written.Load(),
		ErrorCount:    int(a.failed.Load()),
	}

	if !running {
		return health.NewUnhealthy("archiver", "not running")
	}
	if a.failed.Load() > 0 {
		return health.NewDegraded("archiver",
			fmt.Sprintf("%d events failed to archive", a.failed.Load())).WithStats(stats)
	}
	return health.NewHealthy("archiver",
		fmt.Sprintf("archiving, %d queued", a.pool.Stats().QueueDepth)).WithStats(stats)
}

// Received returns how many events have arrived on the subscription.
func (a *Archiver) Received() int64 { return a.received.Load() }

// Written returns how many events have been persisted.
func (a *Archiver) Written() int64 { return a.written.Load() }

// handleMessage decodes one wire event and queues it for writing. Bad
// payloads and a full queue are counted and logged, never fatal: the
// archiver is an observer and must not disturb the replay.
func (a *Archiver) handleMessage(_ context.Context, data []byte) {
	a.received.Add(1)
	if a.metrics != nil {
		a.metrics.received.Inc()
	}

	event, err := a.codec.Decode(data)
	if err != nil {
		a.failed.Add(1)
		if a.metrics != nil {
			a.metrics.failed.WithLabelValues("decode").Inc()
		}
		a.logger.Warn("discarding undecodable event", "error", err)
		return
	}

	payload, err := json.Marshal(event.Data)
	if err != nil {
		a.failed.Add(1)
		if a.metrics != nil {
			a.metrics.failed.WithLabelValues("encode").Inc()
		}
		a.logger.Warn("discarding unencodable event payload",
			"stream", event.Stream, "error", err)
		return
	}

	row := sqlite.Row{
		Run:    a.cfg.Run,
		Stream: event.Stream,
		Seq:    a.nextSeq(event.Stream),
		TS:     event.TS,
		Data:   payload,
	}

	if err := a.pool.Submit(row); err != nil {
		a.failed.Add(1)
		if a.metrics != nil {
			a.metrics.failed.WithLabelValues("queue").Inc()
		}
		a.logger.Warn("archive queue full, dropping event",
			"stream", event.Stream, "seq", row.Seq)
	}
}

// writeRow is the pool processor: persist one row.
func (a *Archiver) writeRow(ctx context.Context, row sqlite.Row) error {
	inserted, err := a.store.Write(ctx, row)
	if err != nil {
		a.failed.Add(1)
		if a.metrics != nil {
			a.metrics.failed.WithLabelValues("write").Inc()
		}
		a.logger.Error("archive write failed",
			"stream", row.Stream, "seq", row.Seq, "error", err)
		return err
	}
	if !inserted {
		a.duplicate.Add(1)
		return nil
	}
	a.written.Add(1)
	if a.metrics != nil {
		a.metrics.written.WithLabelValues(row.Stream).Inc()
	}
	return nil
}

func (a *Archiver) nextSeq(stream string) int64 {
	a.seqMu.Lock()
	defer a.seqMu.Unlock()
	a.seqs[stream]++
	return a.seqs[stream]
}

func (a *Archiver) statusLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.shutdown:
			return
		case <-ticker.C:
			a.logger.Info("archiver status",
				"received", a.received.Load(),
				"written", a.written.Load(),
				"duplicates", a.duplicate.Load(),
				"failed", a.failed.Load(),
				"queued", a.pool.Stats().QueueDepth)
		}
	}
}
