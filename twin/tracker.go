package twin

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/robsok/dt-replay-demo/emit"
	"github.com/robsok/dt-replay-demo/errors"
	"github.com/robsok/dt-replay-demo/health"
	"github.com/robsok/dt-replay-demo/metric"
	"github.com/robsok/dt-replay-demo/natsclient"
)

// DefaultSLA is the Created-to-Delivered window assumed when the
// configuration does not set one.
const DefaultSLA = 8 * time.Hour

// Config holds tracker construction parameters.
type Config struct {
	// Subjects carrying entity events.
	Subjects []string
	// EntityField names the payload field holding the entity identity.
	EntityField string
	// StatusField names the payload field holding the new status.
	StatusField string
	// SLA is the lead-time budget per entity. Zero means DefaultSLA.
	SLA time.Duration
}

// Tracker consumes replayed events and maintains per-entity state.
type Tracker struct {
	client *natsclient.Client
	codec  emit.Codec
	cfg    Config
	logger *slog.Logger

	stateMu sync.RWMutex
	state   map[string]*EntityState

	processed atomic.Int64
	skipped   atomic.Int64

	metrics *twinMetrics

	lifecycleMu sync.Mutex
	mu          sync.RWMutex
	running     bool
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithCodec sets the wire decoding. Defaults to JSON.
func WithCodec(codec emit.Codec) Option {
	return func(tr *Tracker) {
		if codec != nil {
			tr.codec = codec
		}
	}
}

// WithLogger sets the tracker logger.
func WithLogger(logger *slog.Logger) Option {
	return func(tr *Tracker) {
		if logger != nil {
			tr.logger = logger.With("component", "twin")
		}
	}
}

// WithMetricsRegistry enables prometheus metrics. Nil disables them.
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(tr *Tracker) {
		tr.metrics = newTwinMetrics(registry)
	}
}

// New creates a tracker over an established client.
func New(client *natsclient.Client, cfg Config, opts ...Option) (*Tracker, error) {
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Tracker", "New",
			"nats client is required")
	}
	if len(cfg.Subjects) == 0 {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Tracker", "New",
			"at least one subject is required")
	}
	if cfg.EntityField == "" {
		cfg.EntityField = "order_id"
	}
	if cfg.StatusField == "" {
		cfg.StatusField = "status"
	}
	if cfg.SLA <= 0 {
		cfg.SLA = DefaultSLA
	}

	tr := &Tracker{
		client: client,
		codec:  emit.JSONCodec{},
		cfg:    cfg,
		logger: slog.Default().With("component", "twin"),
		state:  make(map[string]*EntityState),
	}
	for _, opt := range opts {
		opt(tr)
	}
	return tr, nil
}

// Start subscribes to the configured subjects.
func (tr *Tracker) Start(ctx context.Context) error {
	tr.lifecycleMu.Lock()
	defer tr.lifecycleMu.Unlock()

	tr.mu.Lock()
	if tr.running {
		tr.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Tracker", "Start", "start tracker")
	}
	tr.running = true
	tr.mu.Unlock()

	for _, subject := range tr.cfg.Subjects {
		if err := tr.client.Subscribe(ctx, subject, tr.handleMessage); err != nil {
			tr.mu.Lock()
			tr.running = false
			tr.mu.Unlock()
			return errors.Wrap(err, "Tracker", "Start",
				fmt.Sprintf("subscribe %s", subject))
		}
	}

	tr.logger.Info("twin tracker started",
		"subjects", tr.cfg.Subjects,
		"entity_field", tr.cfg.EntityField,
		"sla", tr.cfg.SLA)
	return nil
}

// Stop marks the tracker stopped. Subscriptions are torn down with the
// client connection, which the caller owns; accumulated state survives so
// the final snapshot remains queryable.
func (tr *Tracker) Stop(time.Duration) error {
	tr.lifecycleMu.Lock()
	defer tr.lifecycleMu.Unlock()

	tr.mu.Lock()
	tr.running = false
	tr.mu.Unlock()

	tr.logger.Info("twin tracker stopped",
		"entities", len(tr.Snapshot()),
		"processed", tr.processed.Load(),
		"skipped", tr.skipped.Load())
	return nil
}

// Health reports tracker liveness and counters.
func (tr *Tracker) Health() health.Status {
	tr.mu.RLock()
	running := tr.running
	tr.mu.RUnlock()

	stats := &health.Stats{
		EventsHandled: tr.processed.Load(),
		ErrorCount:    int(tr.skipped.Load()),
	}
	if !running {
		return health.NewUnhealthy("twin", "not running")
	}
	return health.NewHealthy("twin",
		fmt.Sprintf("tracking %d entities", tr.entityCount())).WithStats(stats)
}

// Get returns a copy of one entity's state.
func (tr *Tracker) Get(id string) (EntityState, bool) {
	tr.stateMu.RLock()
	defer tr.stateMu.RUnlock()
	s, ok := tr.state[id]
	if !ok {
		return EntityState{}, false
	}
	return s.clone(), true
}

// Snapshot returns a copy of all tracked entities, ordered by id.
func (tr *Tracker) Snapshot() []EntityState {
	tr.stateMu.RLock()
	out := make([]EntityState, 0, len(tr.state))
	for _, s := range tr.state {
		out = append(out, s.clone())
	}
	tr.stateMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Processed returns how many events have been applied.
func (tr *Tracker) Processed() int64 { return tr.processed.Load() }

func (tr *Tracker) entityCount() int {
	tr.stateMu.RLock()
	defer tr.stateMu.RUnlock()
	return len(tr.state)
}

// handleMessage decodes one wire event and applies it to the entity it
// names. Events missing the entity or status field are counted and
// skipped; the tracker observes the replay, it never interrupts it.
func (tr *Tracker) handleMessage(_ context.Context, data []byte) {
	event, err := tr.codec.Decode(data)
	if err != nil {
		tr.skipped.Add(1)
		tr.logger.Warn("discarding undecodable event", "error", err)
		return
	}
	tr.Apply(event)
}

// Apply integrates one decoded event into the state model.
func (tr *Tracker) Apply(event emit.Event) {
	id, ok := stringField(event.Data, tr.cfg.EntityField)
	if !ok {
		tr.skipped.Add(1)
		if tr.metrics != nil {
			tr.metrics.skipped.Inc()
		}
		return
	}
	status, ok := stringField(event.Data, tr.cfg.StatusField)
	if !ok {
		tr.skipped.Add(1)
		if tr.metrics != nil {
			tr.metrics.skipped.Inc()
		}
		return
	}

	tr.stateMu.Lock()
	s, exists := tr.state[id]
	if !exists {
		s = newEntityState(id, tr.cfg.SLA)
		tr.state[id] = s
	}
	s.Update(status, event.TS)
	entities := len(tr.state)
	tr.stateMu.Unlock()

	tr.processed.Add(1)
	if tr.metrics != nil {
		tr.metrics.events.WithLabelValues(status).Inc()
		tr.metrics.entities.Set(float64(entities))
	}

	tr.logger.Debug("entity updated", "id", id, "status", status, "ts", event.TS)

	if status == StatusDelivered {
		tr.reportDelivery(id)
	}
}

func (tr *Tracker) reportDelivery(id string) {
	state, ok := tr.Get(id)
	if !ok {
		return
	}
	lt, ok := state.LeadTime()
	if !ok {
		return
	}
	breached, _ := state.SLABreached()
	if tr.metrics != nil {
		tr.metrics.leadTime.Observe(lt.Seconds())
		if breached {
			tr.metrics.slaBreaches.Inc()
		}
	}
	tr.logger.Info("entity delivered",
		"id", id,
		"lead_time_minutes", lt.Minutes(),
		"sla_breached", breached)
}

func stringField(data map[string]any, key string) (string, bool) {
	v, ok := data[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// twinMetrics holds the tracker's prometheus metrics.
type twinMetrics struct {
	events      *prometheus.CounterVec
	skipped     prometheus.Counter
	entities    prometheus.Gauge
	leadTime    prometheus.Histogram
	slaBreaches prometheus.Counter
}

func newTwinMetrics(registry *metric.MetricsRegistry) *twinMetrics {
	if registry == nil {
		return nil
	}

	m := &twinMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "twin",
			Name:      "events_total",
			Help:      "Total entity events applied, by status",
		}, []string{"status"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "twin",
			Name:      "events_skipped_total",
			Help:      "Total events skipped for missing entity or status fields",
		}),
		entities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "twin",
			Name:      "entities",
			Help:      "Number of entities currently tracked",
		}),
		leadTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "twin",
			Name:      "lead_time_seconds",
			Help:      "Created-to-Delivered lead time in seconds",
			Buckets:   prometheus.ExponentialBuckets(60, 4, 10),
		}),
		slaBreaches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "twin",
			Name:      "sla_breaches_total",
			Help:      "Total deliveries that exceeded the SLA window",
		}),
	}

	_ = registry.RegisterCounterVec("twin", "events_total", m.events)
	_ = registry.RegisterCounter("twin", "events_skipped_total", m.skipped)
	_ = registry.RegisterGauge("twin", "entities", m.entities)
	_ = registry.RegisterHistogram("twin", "lead_time_seconds", m.leadTime)
	_ = registry.RegisterCounter("twin", "sla_breaches_total", m.slaBreaches)

	return m
}
