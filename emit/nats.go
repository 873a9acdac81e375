package emit

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/robsok/dt-replay-demo/errors"
	"github.com/robsok/dt-replay-demo/natsclient"
	"github.com/robsok/dt-replay-demo/pkg/retry"
)

// NATSEmitter publishes events to NATS subjects. Core publishes are
// fire-and-forget; with JetStream enabled every publish is acknowledged by
// the stream. An optional token bucket caps the publish rate and an
// optional retry policy re-attempts transient failures, both invisible to
// the scheduler.
type NATSEmitter struct {
	client   *natsclient.Client
	codec    Codec
	limiter  *rate.Limiter
	durable  bool
	retryCfg *retry.Config
	logger   *slog.Logger
}

// NATSOption configures a NATSEmitter.
type NATSOption func(*NATSEmitter)

// WithCodec selects the wire encoding. Defaults to JSON.
func WithCodec(codec Codec) NATSOption {
	return func(e *NATSEmitter) {
		if codec != nil {
			e.codec = codec
		}
	}
}

// WithJetStream publishes through JetStream for durable, acknowledged
// delivery. The stream must exist; EnsureStream provisions it.
func WithJetStream() NATSOption {
	return func(e *NATSEmitter) {
		e.durable = true
	}
}

// WithPublishRate caps publishes at eventsPerSecond with a token bucket.
// Zero or negative disables the cap.
func WithPublishRate(eventsPerSecond float64) NATSOption {
	return func(e *NATSEmitter) {
		if eventsPerSecond <= 0 {
			e.limiter = nil
			return
		}
		burst := int(eventsPerSecond)
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(eventsPerSecond), burst)
	}
}

// WithRetry re-attempts transient publish failures under the given policy.
// Without this option the first failure is returned to the caller.
func WithRetry(cfg retry.Config) NATSOption {
	return func(e *NATSEmitter) {
		e.retryCfg = &cfg
	}
}

// WithLogger sets the emitter logger.
func WithLogger(logger *slog.Logger) NATSOption {
	return func(e *NATSEmitter) {
		if logger != nil {
			e.logger = logger.With("component", "emitter")
		}
	}
}

// NewNATSEmitter creates an emitter over an established client.
func NewNATSEmitter(client *natsclient.Client, opts ...NATSOption) (*NATSEmitter, error) {
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "NATSEmitter", "NewNATSEmitter",
			"nats client is required")
	}

	e := &NATSEmitter{
		client: client,
		codec:  JSONCodec{},
		logger: slog.Default().With("component", "emitter"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Emit encodes and publishes one event to its destination subject.
func (e *NATSEmitter) Emit(ctx context.Context, destination string, event Event) error {
	payload, err := e.codec.Encode(event)
	if err != nil {
		return err
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return errors.WrapTransient(err, "NATSEmitter", "Emit", "rate limit wait")
		}
	}

	publish := func() error {
		if e.durable {
			return e.client.PublishToStream(ctx, destination, payload)
		}
		return e.client.Publish(ctx, destination, payload)
	}

	if e.retryCfg == nil {
		if err := publish(); err != nil {
			return errors.WrapTransient(err, "NATSEmitter", "Emit",
				fmt.Sprintf("publish %s", destination))
		}
		return nil
	}

	attempts := 0
	err = retry.Do(ctx, *e.retryCfg, func() error {
		attempts++
		err := publish()
		if err == nil {
			return nil
		}
		if errors.Classify(err) != errors.ErrorTransient {
			return retry.NonRetryable(err)
		}
		e.logger.Warn("transient publish failure, retrying",
			"subject", destination, "attempt", attempts, "error", err)
		return err
	})
	if err != nil {
		return errors.WrapTransient(err, "NATSEmitter", "Emit",
			fmt.Sprintf("publish %s after %d attempts", destination, attempts))
	}
	return nil
}
