package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// CLIConfig holds command-line configuration for the replay driver.
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	Speed           float64
	Start           string
	End             string
	DryRun          bool
	DryRunPath      string
	Live            bool
	LiveInterval    time.Duration
	Resume          string
	Validate        bool
	StatusAddr      string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("DTREPLAY_CONFIG", "configs/replay.yaml"),
		"Path to configuration file (env: DTREPLAY_CONFIG)")
	flag.StringVar(&cfg.ConfigPath, "c",
		getEnv("DTREPLAY_CONFIG", "configs/replay.yaml"),
		"Path to configuration file (shorthand)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("DTREPLAY_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: DTREPLAY_LOG_LEVEL)")
	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("DTREPLAY_LOG_FORMAT", "json"),
		"Log format: json, text (env: DTREPLAY_LOG_FORMAT)")

	flag.Float64Var(&cfg.Speed, "speed", 0,
		"Override replay speed multiplier, 0 keeps the configured value")
	flag.StringVar(&cfg.Start, "start", "",
		"Override replay window start (ISO-8601 or epoch)")
	flag.StringVar(&cfg.End, "end", "",
		"Override replay window end (ISO-8601 or epoch)")

	flag.BoolVar(&cfg.DryRun, "dry-run", false,
		"Write events to local JSONL files instead of publishing")
	flag.StringVar(&cfg.DryRunPath, "dry-run-path", "replay-out",
		"Directory for dry-run output, one file per destination")

	flag.BoolVar(&cfg.Live, "live", false,
		"Continuous live mode: shuffle loaded events and publish with now-based timestamps")
	flag.DurationVar(&cfg.LiveInterval, "live-interval", time.Second,
		"Spacing between events in live mode")

	flag.StringVar(&cfg.Resume, "resume", "",
		"Resume a previous run from its checkpoint (run id)")

	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")
	flag.StringVar(&cfg.StatusAddr, "status-addr",
		getEnv("DTREPLAY_SERVICE_ADDR", ""),
		"Status/metrics listen address, empty uses the configured service.addr (env: DTREPLAY_SERVICE_ADDR)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("DTREPLAY_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: DTREPLAY_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information (shorthand)")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information (shorthand)")

	flag.Usage = printDetailedHelp
	flag.Parse()

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}
	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	switch cfg.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.Speed < 0 {
		return fmt.Errorf("speed cannot be negative")
	}
	if cfg.Live && cfg.Resume != "" {
		return fmt.Errorf("-live and -resume are mutually exclusive")
	}
	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - time-ordered event replay

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Replay at 60x (config default)
  %s -c configs/replay.yaml

  # Inspect the merged stream without a broker
  %s -c configs/replay.yaml -dry-run

  # Resume an aborted run from its checkpoint
  %s -c configs/replay.yaml -resume 2f1c9a6e

Version: %s
`, os.Args[0], os.Args[0], os.Args[0], Version)
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
