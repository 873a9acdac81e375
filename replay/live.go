package replay

import (
	"context"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/robsok/dt-replay-demo/emit"
	"github.com/robsok/dt-replay-demo/errors"
	"github.com/robsok/dt-replay-demo/metric"
)

const defaultLiveInterval = 2 * time.Second

// LivePublisher streams loaded events continuously with no gaps: every
// pass shuffles all events and publishes them at a fixed interval with
// now-based timestamps, ignoring the recorded ones. Passes repeat until
// the context is canceled. Useful for soak-testing consumers with steady
// traffic.
type LivePublisher struct {
	emitter  emit.Emitter
	logger   *slog.Logger
	metrics  *metric.Metrics
	interval time.Duration
	seed     int64

	published atomic.Int64
}

// LiveOption configures a LivePublisher.
type LiveOption func(*LivePublisher)

// WithInterval sets the fixed gap between publishes. Default 2s.
func WithInterval(d time.Duration) LiveOption {
	return func(p *LivePublisher) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithSeed fixes the shuffle seed for reproducible event order.
func WithSeed(seed int64) LiveOption {
	return func(p *LivePublisher) {
		p.seed = seed
	}
}

// WithLiveLogger sets the publisher logger.
func WithLiveLogger(logger *slog.Logger) LiveOption {
	return func(p *LivePublisher) {
		if logger != nil {
			p.logger = logger.With("component", "live")
		}
	}
}

// WithLiveMetrics enables instrumentation. Nil disables it.
func WithLiveMetrics(metrics *metric.Metrics) LiveOption {
	return func(p *LivePublisher) {
		p.metrics = metrics
	}
}

// NewLivePublisher creates a live publisher over emitter.
func NewLivePublisher(emitter emit.Emitter, opts ...LiveOption) *LivePublisher {
	p := &LivePublisher{
		emitter:  emitter,
		logger:   slog.Default().With("component", "live"),
		interval: defaultLiveInterval,
		seed:     time.Now().UnixNano(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type liveEvent struct {
	stream  string
	subject string
	fields  map[string]any
}

// Published returns the total number of events published across all
// passes.
func (p *LivePublisher) Published() int64 {
	return p.published.Load()
}

// Run publishes shuffled passes over the loaded events until ctx is
// canceled. Recorded timestamps are ignored; each event gets a timestamp
// spaced interval apart from the pass start. An emitter failure aborts
// the run.
func (p *LivePublisher) Run(ctx context.Context, results []LoadResult) error {
	var events []liveEvent
	for _, res := range results {
		for _, rec := range res.Records {
			events = append(events, liveEvent{
				stream:  res.Stream,
				subject: res.Subject,
				fields:  rec.Fields,
			})
		}
	}
	if len(events) == 0 {
		p.logger.Warn("No events found in loaded streams")
		return nil
	}

	rng := rand.New(rand.NewSource(p.seed))
	p.logger.Info("Live publishing started",
		"events", len(events), "interval", p.interval.String())

	for {
		rng.Shuffle(len(events), func(i, j int) {
			events[i], events[j] = events[j], events[i]
		})
		passStart := time.Now().UTC()

		for i, ev := range events {
			if err := ctx.Err(); err != nil {
				return errors.Wrap(err, "LivePublisher", "Run", "live publish")
			}

			event := emit.Event{
				TS:     passStart.Add(time.Duration(i+1) * p.interval),
				Stream: ev.stream,
				Data:   ev.fields,
			}
			if err := p.emitter.Emit(ctx, ev.subject, event); err != nil {
				if p.metrics != nil {
					p.metrics.RecordEventFailed(ev.stream)
				}
				return errors.Wrap(err, "LivePublisher", "Run", "publish to "+ev.subject)
			}

			count := p.published.Add(1)
			if p.metrics != nil {
				p.metrics.RecordEventEmitted(ev.stream)
			}
			p.logger.Debug("Live event published",
				"seq", count, "stream", ev.stream, "subject", ev.subject)
			if (i+1)%100 == 0 {
				p.logger.Info("Progress", "published", i+1, "total", len(events))
			}

			timer := time.NewTimer(p.interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.Wrap(ctx.Err(), "LivePublisher", "Run", "live publish")
			case <-timer.C:
			}
		}

		p.logger.Info("Published all events, starting next pass",
			"events", len(events), "total_published", p.published.Load())
	}
}
