// Package main implements dtarchive, the event archiver daemon. It
// subscribes to the replay subjects on NATS and persists every event into
// a local SQLite archive for later inspection.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/robsok/dt-replay-demo/archive"
	"github.com/robsok/dt-replay-demo/archive/sqlite"
	"github.com/robsok/dt-replay-demo/config"
	"github.com/robsok/dt-replay-demo/emit"
	"github.com/robsok/dt-replay-demo/health"
	"github.com/robsok/dt-replay-demo/metric"
	"github.com/robsok/dt-replay-demo/natsclient"
	"github.com/robsok/dt-replay-demo/service"
)

const (
	// Version is the build version.
	Version = "0.1.0"
	appName = "dtarchive"
)

type cliConfig struct {
	configPath      string
	logLevel        string
	logFormat       string
	dbPath          string
	run             string
	statusAddr      string
	shutdownTimeout time.Duration
	showVersion     bool
}

func parseFlags() *cliConfig {
	cfg := &cliConfig{}
	flag.StringVar(&cfg.configPath, "c", getEnv("DTREPLAY_CONFIG", "configs/replay.yaml"),
		"Path to configuration file (env: DTREPLAY_CONFIG)")
	flag.StringVar(&cfg.logLevel, "log-level", getEnv("DTREPLAY_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error")
	flag.StringVar(&cfg.logFormat, "log-format", getEnv("DTREPLAY_LOG_FORMAT", "json"),
		"Log format: json, text")
	flag.StringVar(&cfg.dbPath, "db", "",
		"Override archive database path, empty uses the configured archive.path")
	flag.StringVar(&cfg.run, "run", "",
		"Run label for archived rows, empty groups rows under \"live\"")
	flag.StringVar(&cfg.statusAddr, "status-addr", "",
		"Status/metrics listen address, empty uses the configured service.addr")
	flag.DurationVar(&cfg.shutdownTimeout, "shutdown-timeout",
		getEnvDuration("DTREPLAY_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout")
	flag.BoolVar(&cfg.showVersion, "version", false, "Show version information")
	flag.Parse()
	return cfg
}

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
		slog.Error("Archiver failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if cliCfg.showVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	logger := setupLogger(cliCfg.logLevel, cliCfg.logFormat)
	slog.SetDefault(logger)

	cfg, err := config.Load(cliCfg.configPath)
	if err != nil {
		return err
	}
	if cliCfg.dbPath != "" {
		cfg.Archive.Path = cliCfg.dbPath
	}
	if cliCfg.statusAddr != "" {
		cfg.Service.Addr = cliCfg.statusAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor()

	client, err := natsclient.NewClient(cfg.Broker.URL,
		natsclient.WithName(appName),
		natsclient.WithTimeout(cfg.Broker.Timeout()),
		natsclient.WithLogger(logger),
		natsclient.WithMetricsRegistry(registry))
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer func() { _ = client.Close(context.Background()) }()

	store, err := sqlite.Open(cfg.Archive.Path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	codec, err := emit.CodecFor(cfg.Broker.Encoding)
	if err != nil {
		return err
	}

	archiver, err := archive.New(client, store, archive.Config{
		Subjects:  cfg.Archive.Subjects,
		Run:       cliCfg.run,
		Workers:   cfg.Archive.Workers,
		QueueSize: cfg.Archive.QueueSize,
	},
		archive.WithCodec(codec),
		archive.WithLogger(logger),
		archive.WithMetricsRegistry(registry))
	if err != nil {
		return err
	}

	if err := archiver.Initialize(); err != nil {
		return err
	}
	if err := archiver.Start(ctx); err != nil {
		return err
	}

	statusServer, err := service.New(cfg.Service.Addr,
		service.WithLogger(logger),
		service.WithMetricsRegistry(registry),
		service.WithHealthMonitor(monitor),
		service.WithReport(func() service.Report {
			return service.Report{
				Service: appName,
				State:   strings.ToLower(archiver.Health().Status),
				Emitted: archiver.Written(),
			}
		}))
	if err != nil {
		return err
	}
	if err := statusServer.Start(ctx); err != nil {
		return err
	}

	monitor.UpdateHealthy("archiver", "archiving")
	logger.Info("Archiver running",
		"subjects", cfg.Archive.Subjects,
		"db", cfg.Archive.Path)

	<-ctx.Done()
	logger.Info("Shutting down")

	var firstErr error
	if err := archiver.Stop(cliCfg.shutdownTimeout); err != nil {
		firstErr = err
	}
	if err := statusServer.Stop(cliCfg.shutdownTimeout); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	if strings.ToLower(format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler).With("service", appName, "version", Version, "pid", os.Getpid())
}
