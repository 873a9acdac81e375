// Package main implements dtreplay, the replay driver. It loads the
// configured streams, merges them into one chronological sequence, and
// publishes events to NATS at the configured speed, with dry-run, live,
// and checkpoint-resume modes.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/robsok/dt-replay-demo/checkpoint"
	"github.com/robsok/dt-replay-demo/config"
	"github.com/robsok/dt-replay-demo/emit"
	"github.com/robsok/dt-replay-demo/health"
	"github.com/robsok/dt-replay-demo/metric"
	"github.com/robsok/dt-replay-demo/natsclient"
	"github.com/robsok/dt-replay-demo/pkg/retry"
	"github.com/robsok/dt-replay-demo/replay"
	"github.com/robsok/dt-replay-demo/service"
)

const (
	// Version is the build version.
	Version = "0.1.0"
	appName = "dtreplay"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Replay failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return err
	}
	if cliCfg.Validate {
		logger.Info("Configuration is valid", "path", cliCfg.ConfigPath, "streams", len(cfg.Replay.Streams))
		return nil
	}
	applyOverrides(cfg, cliCfg)

	runID := cliCfg.Resume
	if runID == "" {
		runID = uuid.NewString()
	}
	logger = logger.With("run", runID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor()

	logger.Info("Starting replay",
		"config", cliCfg.ConfigPath,
		"streams", len(cfg.Replay.Streams),
		"speed", cfg.Replay.Speed,
		"dry_run", cliCfg.DryRun,
		"live", cliCfg.Live)

	start, err := replay.ParseBound(cfg.Replay.Start)
	if err != nil {
		return err
	}
	end, err := replay.ParseBound(cfg.Replay.End)
	if err != nil {
		return err
	}

	var (
		emitter  emit.Emitter
		recorder *checkpoint.Recorder
	)

	if cliCfg.DryRun {
		fileEmitter, err := emit.NewFileEmitter(cliCfg.DryRunPath, emit.WithPerDestination())
		if err != nil {
			return err
		}
		defer func() { _ = fileEmitter.Close() }()
		emitter = fileEmitter
	} else {
		client, err := connectBroker(ctx, cfg, logger, registry)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close(context.Background()) }()

		emitter, err = buildNATSEmitter(ctx, client, cfg, logger)
		if err != nil {
			return err
		}

		store, err := checkpoint.Open(ctx, client, checkpoint.WithLogger(logger))
		if err != nil {
			// Checkpoints need JetStream; without it the replay still runs,
			// it just cannot be resumed.
			logger.Warn("Checkpoint store unavailable, resume disabled", "error", err)
		} else {
			if cliCfg.Resume != "" {
				cp, err := store.Load(ctx, cliCfg.Resume)
				if err != nil {
					return err
				}
				start = cp.TS
				logger.Info("Resuming from checkpoint",
					"stream", cp.Stream, "ts", cp.TS, "emitted", cp.Emitted)
			}
			recorder, err = checkpoint.NewRecorder(store, runID,
				checkpoint.WithRecorderLogger(logger))
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = recorder.Close(closeCtx)
			}()
		}
	}

	loader := replay.NewLoader(logger, registry.CoreMetrics())
	results, err := loader.LoadAll(ctx, cfg.Replay.Streams)
	if err != nil {
		return err
	}
	monitor.UpdateHealthy("loader", fmt.Sprintf("%d streams loaded", len(results)))

	if cliCfg.Live {
		return runLive(ctx, cfg, cliCfg, logger, registry, monitor, emitter, results, runID)
	}
	return runScheduled(ctx, cfg, cliCfg, logger, registry, monitor, emitter, recorder, results, runID, start, end)
}

// applyOverrides layers CLI values over the loaded configuration.
func applyOverrides(cfg *config.Config, cliCfg *CLIConfig) {
	if cliCfg.Speed > 0 {
		cfg.Replay.Speed = cliCfg.Speed
	}
	if cliCfg.Start != "" {
		cfg.Replay.Start = cliCfg.Start
	}
	if cliCfg.End != "" {
		cfg.Replay.End = cliCfg.End
	}
	if cliCfg.StatusAddr != "" {
		cfg.Service.Addr = cliCfg.StatusAddr
	}
}

func connectBroker(ctx context.Context, cfg *config.Config, logger *slog.Logger,
	registry *metric.MetricsRegistry) (*natsclient.Client, error) {

	opts := []natsclient.ClientOption{
		natsclient.WithName(cfg.Broker.Name),
		natsclient.WithTimeout(cfg.Broker.Timeout()),
		natsclient.WithLogger(logger),
		natsclient.WithMetricsRegistry(registry),
	}
	if cfg.Broker.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.Broker.Username, cfg.Broker.Password))
	}
	if cfg.Broker.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.Broker.Token))
	}

	client, err := natsclient.NewClient(cfg.Broker.URL, opts...)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

func buildNATSEmitter(ctx context.Context, client *natsclient.Client, cfg *config.Config,
	logger *slog.Logger) (emit.Emitter, error) {

	codec, err := emit.CodecFor(cfg.Broker.Encoding)
	if err != nil {
		return nil, err
	}

	opts := []emit.NATSOption{
		emit.WithCodec(codec),
		emit.WithLogger(logger),
		emit.WithRetry(retry.Quick()),
	}
	if cfg.Broker.MaxPublishRate > 0 {
		opts = append(opts, emit.WithPublishRate(cfg.Broker.MaxPublishRate))
	}
	if cfg.Broker.JetStream {
		subjects := make([]string, 0, len(cfg.Replay.Streams))
		for _, s := range cfg.Replay.Streams {
			subjects = append(subjects, s.Subject)
		}
		if _, err := client.EnsureStream(ctx, jetstream.StreamConfig{
			Name:     cfg.Broker.StreamName,
			Subjects: subjects,
		}); err != nil {
			return nil, err
		}
		opts = append(opts, emit.WithJetStream())
	}

	return emit.NewNATSEmitter(client, opts...)
}

func runScheduled(ctx context.Context, cfg *config.Config, cliCfg *CLIConfig, logger *slog.Logger,
	registry *metric.MetricsRegistry, monitor *health.Monitor, emitter emit.Emitter,
	recorder *checkpoint.Recorder, results []replay.LoadResult, runID string,
	start, end time.Time) error {

	opts := []replay.Option{
		replay.WithSpeed(cfg.Replay.Speed),
		replay.WithLogger(logger),
		replay.WithMetrics(registry.CoreMetrics()),
	}
	if recorder != nil {
		opts = append(opts, replay.WithEmitHook(recorder.Record))
	}

	sched := replay.NewScheduler(emitter, opts...)
	if err := sched.Arm(results, start, end); err != nil {
		return err
	}

	statusServer, err := startStatusServer(ctx, cfg, logger, registry, monitor, func() service.Report {
		progress := sched.Progress()
		streams := make([]service.StreamStatus, 0, len(progress))
		for _, p := range progress {
			streams = append(streams, service.StreamStatus{
				Stream: p.Stream, Emitted: p.Emitted, Total: p.Total,
			})
		}
		return service.Report{
			Service: appName,
			Run:     runID,
			State:   sched.State().String(),
			Speed:   sched.Speed(),
			Emitted: sched.Emitted(),
			Total:   sched.Total(),
			Streams: streams,
		}
	})
	if err != nil {
		return err
	}
	defer func() { _ = statusServer.Stop(cliCfg.ShutdownTimeout) }()

	monitor.UpdateHealthy("scheduler", "armed")

	if err := sched.Run(ctx); err != nil {
		monitor.UpdateUnhealthy("scheduler", "replay aborted")
		if last, ok := sched.LastEmitted(); ok {
			logger.Error("Replay aborted, recovery point recorded",
				"stream", last.Stream, "ts", last.TS, "seq", last.Seq,
				"resume_hint", fmt.Sprintf("-resume %s", runID))
		}
		return err
	}

	monitor.UpdateHealthy("scheduler", "done")
	logger.Info("Replay complete", "emitted", sched.Emitted())
	return nil
}

func runLive(ctx context.Context, cfg *config.Config, cliCfg *CLIConfig, logger *slog.Logger,
	registry *metric.MetricsRegistry, monitor *health.Monitor, emitter emit.Emitter,
	results []replay.LoadResult, runID string) error {

	publisher := replay.NewLivePublisher(emitter,
		replay.WithInterval(cliCfg.LiveInterval),
		replay.WithLiveLogger(logger),
		replay.WithLiveMetrics(registry.CoreMetrics()))

	statusServer, err := startStatusServer(ctx, cfg, logger, registry, monitor, func() service.Report {
		return service.Report{
			Service: appName,
			Run:     runID,
			State:   "live",
			Emitted: publisher.Published(),
		}
	})
	if err != nil {
		return err
	}
	defer func() { _ = statusServer.Stop(cliCfg.ShutdownTimeout) }()

	monitor.UpdateHealthy("live", "publishing")
	if err := publisher.Run(ctx, results); err != nil && !stderrors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Live publishing stopped", "published", publisher.Published())
	return nil
}

func startStatusServer(ctx context.Context, cfg *config.Config, logger *slog.Logger,
	registry *metric.MetricsRegistry, monitor *health.Monitor,
	report service.ReportFunc) (*service.Server, error) {

	server, err := service.New(cfg.Service.Addr,
		service.WithLogger(logger),
		service.WithMetricsRegistry(registry),
		service.WithHealthMonitor(monitor),
		service.WithReport(report))
	if err != nil {
		return nil, err
	}
	if err := server.Start(ctx); err != nil {
		return nil, err
	}
	return server, nil
}
