// Package main implements dttwin, the dashboard backend daemon. It
// subscribes to replayed order events on NATS and maintains per-entity
// state (latest status, transition timestamps, lead time, SLA breach),
// exposing the model through the operational status endpoint. When a feed
// address is configured it also serves the WebSocket live feed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/robsok/dt-replay-demo/config"
	"github.com/robsok/dt-replay-demo/emit"
	"github.com/robsok/dt-replay-demo/feed"
	"github.com/robsok/dt-replay-demo/health"
	"github.com/robsok/dt-replay-demo/metric"
	"github.com/robsok/dt-replay-demo/natsclient"
	"github.com/robsok/dt-replay-demo/service"
	"github.com/robsok/dt-replay-demo/twin"
)

const (
	// Version is the build version.
	Version = "0.1.0"
	appName = "dttwin"
)

type cliConfig struct {
	configPath      string
	logLevel        string
	logFormat       string
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
		slog.Error("Twin failed", "error", err)
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

	codec, err := emit.CodecFor(cfg.Broker.Encoding)
	if err != nil {
		return err
	}

	tracker, err := twin.New(client, twin.Config{
		Subjects:    cfg.Twin.Subjects,
		EntityField: cfg.Twin.EntityField,
		StatusField: cfg.Twin.StatusField,
		SLA:         cfg.Twin.SLA(),
	},
		twin.WithCodec(codec),
		twin.WithLogger(logger),
		twin.WithMetricsRegistry(registry))
	if err != nil {
		return err
	}
	if err := tracker.Start(ctx); err != nil {
		return err
	}

	var feedServer *feed.Server
	if cfg.Feed.Addr != "" {
		feedServer, err = feed.New(client, feed.Config{
			Addr:       cfg.Feed.Addr,
			Path:       cfg.Feed.Path,
			Subjects:   cfg.Feed.Subjects,
			MaxClients: cfg.Feed.MaxClients,
			Backlog:    cfg.Feed.Backlog,
		},
			feed.WithLogger(logger),
			feed.WithMetricsRegistry(registry))
		if err != nil {
			return err
		}
		if err := feedServer.Start(ctx); err != nil {
			return err
		}
		monitor.UpdateHealthy("feed", "broadcasting")
	}

	statusServer, err := service.New(cfg.Service.Addr,
		service.WithLogger(logger),
		service.WithMetricsRegistry(registry),
		service.WithHealthMonitor(monitor),
		service.WithReport(func() service.Report {
			return service.Report{
				Service: appName,
				State:   strings.ToLower(tracker.Health().Status),
				Emitted: tracker.Processed(),
				Total:   len(tracker.Snapshot()),
			}
		}),
		// The twin's state model rides on the same mux.
		service.WithRoute("/entities", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(tracker.Snapshot())
		}))
	if err != nil {
		return err
	}

	if err := statusServer.Start(ctx); err != nil {
		return err
	}

	monitor.UpdateHealthy("twin", "tracking")
	logger.Info("Twin running",
		"subjects", cfg.Twin.Subjects,
		"entity_field", cfg.Twin.EntityField,
		"sla", cfg.Twin.SLA())

	<-ctx.Done()
	logger.Info("Shutting down")

	var firstErr error
	if feedServer != nil {
		if err := feedServer.Stop(cliCfg.shutdownTimeout); err != nil {
			firstErr = err
		}
	}
	if err := tracker.Stop(cliCfg.shutdownTimeout); err != nil && firstErr == nil {
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
