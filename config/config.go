// Package config loads and validates the dt-replay configuration file.
//
// Configuration is a single YAML document with broker, replay, archive,
// twin, feed, and service sections. Load applies defaults first, then the
// file contents, then DTREPLAY_* environment overrides, and finally
// validates the result so a broken config fails before anything connects.
package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/robsok/dt-replay-demo/errors"
)

// Encoding labels accepted for broker.encoding.
const (
	EncodingJSON    = "json"
	EncodingMsgPack = "msgpack"
)

// EnvPrefix is the prefix for all environment variable overrides.
const EnvPrefix = "DTREPLAY"

// Config is the complete application configuration.
type Config struct {
	Broker  BrokerConfig  `yaml:"broker"`
	Replay  ReplayConfig  `yaml:"replay"`
	Archive ArchiveConfig `yaml:"archive"`
	Twin    TwinConfig    `yaml:"twin"`
	Feed    FeedConfig    `yaml:"feed"`
	Service ServiceConfig `yaml:"service"`
}

// BrokerConfig defines the NATS connection and publish behavior shared by
// every binary.
type BrokerConfig struct {
	URL            string  `yaml:"url"`
	Name           string  `yaml:"name,omitempty"`
	Username       string  `yaml:"username,omitempty"`
	Password       string  `yaml:"password,omitempty"`
	Token          string  `yaml:"token,omitempty"`
	Encoding       string  `yaml:"encoding,omitempty"`         // json | msgpack
	JetStream      bool    `yaml:"jetstream,omitempty"`        // durable publish through a JetStream stream
	StreamName     string  `yaml:"stream_name,omitempty"`      // JetStream stream name when jetstream=true
	MaxPublishRate float64 `yaml:"max_publish_rate,omitempty"` // events/sec, 0 = unlimited
	TimeoutSeconds int     `yaml:"timeout_seconds,omitempty"`
}

// Timeout returns the connect timeout as a duration.
func (b BrokerConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// ReplayConfig defines the replay run: pacing plus the streams to merge.
// Start and End stay raw strings here; the replay package parses them with
// the same tolerant parser used for row timestamps.
type ReplayConfig struct {
	Speed   float64            `yaml:"speed"`
	Start   string             `yaml:"start,omitempty"`
	End     string             `yaml:"end,omitempty"`
	Streams []StreamDescriptor `yaml:"streams"`
}

// StreamDescriptor describes one tabular source and how its rows become
// events: where the CSV lives, which subject its events go to, and how to
// interpret its timestamp column.
type StreamDescriptor struct {
	ID      string `yaml:"id"`
	Source  string `yaml:"source"`
	Subject string `yaml:"subject"`
	TimeCol string `yaml:"time_col"`
	TimeFmt string `yaml:"time_fmt,omitempty"`
	TZ      string `yaml:"tz,omitempty"`

	Schema SchemaTransform `yaml:"schema,omitempty"`

	// DropNATime controls rows whose timestamp fails to parse: true drops
	// them at load, false retains them outside the replay order. Defaults
	// to true when omitted.
	DropNATime *bool `yaml:"drop_na_time,omitempty"`

	// EntityIDCol names the column carrying the entity identity used by
	// the twin tracker. Optional for plain sensor streams.
	EntityIDCol string `yaml:"entity_id_col,omitempty"`

	// KeepCols and DropCols project the row before emission. KeepCols wins
	// when both are set. The time column is always kept.
	KeepCols []string `yaml:"keep_cols,omitempty"`
	DropCols []string `yaml:"drop_cols,omitempty"`

	// Filter is an optional CEL expression; rows evaluating false are
	// dropped during loading.
	Filter string `yaml:"filter,omitempty"`
}

// DropUnparseable reports whether rows with unparseable timestamps should
// be discarded at load time (the default).
func (d StreamDescriptor) DropUnparseable() bool {
	return d.DropNATime == nil || *d.DropNATime
}

// SchemaTransform declares column renames and best-effort type coercions
// applied after loading, before filtering.
type SchemaTransform struct {
	Rename map[string]string `yaml:"rename,omitempty"`
	Types  map[string]string `yaml:"types,omitempty"` // float | int | string
}

// ArchiveConfig defines the NATS to SQLite archiver.
type ArchiveConfig struct {
	Subjects  []string `yaml:"subjects,omitempty"`
	Path      string   `yaml:"path,omitempty"`
	Workers   int      `yaml:"workers,omitempty"`
	QueueSize int      `yaml:"queue_size,omitempty"`
}

// TwinConfig defines the digital twin tracker.
type TwinConfig struct {
	Subjects    []string `yaml:"subjects,omitempty"`
	EntityField string   `yaml:"entity_field,omitempty"`
	StatusField string   `yaml:"status_field,omitempty"`
	SLAHours    float64  `yaml:"sla_hours,omitempty"`
}

// SLA returns the configured SLA window as a duration.
func (t TwinConfig) SLA() time.Duration {
	return time.Duration(t.SLAHours * float64(time.Hour))
}

// FeedConfig defines the WebSocket live feed.
type FeedConfig struct {
	Addr       string   `yaml:"addr,omitempty"`
	Path       string   `yaml:"path,omitempty"`
	Subjects   []string `yaml:"subjects,omitempty"`
	MaxClients int      `yaml:"max_clients,omitempty"`
	Backlog    int      `yaml:"backlog,omitempty"` // recent events replayed to new clients
}

// ServiceConfig defines the operational HTTP endpoint.
type ServiceConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// Default returns the built-in defaults applied before any file or
// environment values.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			URL:            "nats://localhost:4222",
			Name:           "dt-replay",
			Encoding:       EncodingJSON,
			StreamName:     "REPLAY",
			TimeoutSeconds: 5,
		},
		Replay: ReplayConfig{
			Speed: 60.0,
		},
		Archive: ArchiveConfig{
			Subjects:  []string{"lab.>"},
			Path:      "archive.db",
			Workers:   4,
			QueueSize: 1024,
		},
		Twin: TwinConfig{
			Subjects:    []string{"lab.events"},
			EntityField: "order_id",
			StatusField: "status",
			SLAHours:    8,
		},
		Feed: FeedConfig{
			Addr:       ":8090",
			Path:       "/ws",
			Subjects:   []string{"lab.>"},
			MaxClients: 100,
			Backlog:    100,
		},
		Service: ServiceConfig{
			Addr: ":8080",
		},
	}
}

// Load reads, merges, and validates configuration from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Load", "read config file")
	}
	return Parse(data)
}

// Parse decodes raw YAML over the defaults, applies environment
// overrides, and validates. Unknown keys are rejected so typos surface
// immediately instead of silently falling back to defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !stderrors.Is(err, io.EOF) {
		return nil, errors.WrapInvalid(err, "Config", "Parse", "decode yaml")
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides layers DTREPLAY_* environment variables over the file
// values. Only operational knobs are overridable; stream definitions stay
// in the file.
func (c *Config) applyEnvOverrides() {
	envString(&c.Broker.URL, "BROKER_URL")
	envString(&c.Broker.Username, "BROKER_USERNAME")
	envString(&c.Broker.Password, "BROKER_PASSWORD")
	envString(&c.Broker.Token, "BROKER_TOKEN")
	envString(&c.Broker.Encoding, "BROKER_ENCODING")
	envFloat(&c.Replay.Speed, "SPEED")
	envString(&c.Replay.Start, "START")
	envString(&c.Replay.End, "END")
	envString(&c.Archive.Path, "ARCHIVE_PATH")
	envString(&c.Feed.Addr, "FEED_ADDR")
	envString(&c.Service.Addr, "SERVICE_ADDR")
}

func envString(dst *string, key string) {
	if v := os.Getenv(EnvPrefix + "_" + key); v != "" {
		*dst = v
	}
}

func envFloat(dst *float64, key string) {
	if v := os.Getenv(EnvPrefix + "_" + key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

// Validate checks the merged configuration and returns an actionable
// error for the first problem found.
func (c *Config) Validate() error {
	if c.Broker.URL == "" {
		return validationError("broker.url is required")
	}
	switch c.Broker.Encoding {
	case EncodingJSON, EncodingMsgPack:
	default:
		return validationError(fmt.Sprintf(
			"broker.encoding %q is not supported (must be %q or %q)",
			c.Broker.Encoding, EncodingJSON, EncodingMsgPack))
	}
	if c.Broker.MaxPublishRate < 0 {
		return validationError("broker.max_publish_rate cannot be negative")
	}
	if c.Broker.JetStream && c.Broker.StreamName == "" {
		return validationError("broker.stream_name is required when broker.jetstream is enabled")
	}

	if c.Replay.Speed < 0 {
		return validationError("replay.speed cannot be negative")
	}

	seen := make(map[string]bool, len(c.Replay.Streams))
	for i, s := range c.Replay.Streams {
		prefix := fmt.Sprintf("replay.streams[%d]", i)
		if s.ID == "" {
			return validationError(prefix + ": id is required")
		}
		if seen[s.ID] {
			return validationError(fmt.Sprintf("%s: duplicate stream id %q", prefix, s.ID))
		}
		seen[s.ID] = true
		if s.Source == "" {
			return validationError(fmt.Sprintf("%s (%s): source is required", prefix, s.ID))
		}
		if s.Subject == "" {
			return validationError(fmt.Sprintf("%s (%s): subject is required", prefix, s.ID))
		}
		if s.TimeCol == "" {
			return validationError(fmt.Sprintf("%s (%s): time_col is required", prefix, s.ID))
		}
	}

	if c.Archive.Workers < 0 {
		return validationError("archive.workers cannot be negative")
	}
	if c.Archive.QueueSize < 0 {
		return validationError("archive.queue_size cannot be negative")
	}
	if c.Twin.SLAHours < 0 {
		return validationError("twin.sla_hours cannot be negative")
	}
	if c.Feed.MaxClients < 0 {
		return validationError("feed.max_clients cannot be negative")
	}

	return nil
}

// Stream returns the descriptor with the given id.
func (c *Config) Stream(id string) (StreamDescriptor, bool) {
	for _, s := range c.Replay.Streams {
		if s.ID == id {
			return s, true
		}
	}
	return StreamDescriptor{}, false
}

func validationError(msg string) error {
	return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", msg)
}
