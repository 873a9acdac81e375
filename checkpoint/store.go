package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/robsok/dt-replay-demo/errors"
	"github.com/robsok/dt-replay-demo/natsclient"
)

// Bucket is the KV bucket that holds one checkpoint per replay run.
const Bucket = "replay-checkpoints"

// Checkpoint is the recovery point of a replay run: the last event that
// was successfully emitted. Resuming from it replays from TS onward, so
// the boundary event may be delivered twice but none are lost.
type Checkpoint struct {
	RunID   string    `json:"run_id"`
	Stream  string    `json:"stream"`
	TS      time.Time `json:"ts"`
	Seq     int64     `json:"seq"`
	Emitted int64     `json:"emitted"`
	SavedAt time.Time `json:"saved_at"`
}

// Store persists run checkpoints in a NATS KV bucket. A run has at most
// one checkpoint, keyed by its run ID; later saves overwrite earlier
// ones since a newer checkpoint strictly supersedes an older one.
type Store struct {
	kv     *natsclient.KVStore
	logger *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open creates or opens the checkpoint bucket on a connected client.
func Open(ctx context.Context, client *natsclient.Client, opts ...StoreOption) (*Store, error) {
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"CheckpointStore", "Open", "nil NATS client")
	}

	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      Bucket,
		Description: "replay run recovery points",
		History:     1,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "CheckpointStore", "Open",
			"open bucket "+Bucket)
	}

	store := &Store{
		kv:     client.NewKVStore(bucket),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(store)
	}
	store.logger = store.logger.With("component", "checkpoint")
	return store, nil
}

// Save writes the run's checkpoint, stamping SavedAt. Last writer wins:
// the scheduler is the only writer for a given run.
func (s *Store) Save(ctx context.Context, cp Checkpoint) error {
	if cp.RunID == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"CheckpointStore", "Save", "checkpoint run id")
	}

	cp.SavedAt = time.Now().UTC()
	payload, err := json.Marshal(cp)
	if err != nil {
		return errors.WrapInvalid(err, "CheckpointStore", "Save", "marshal checkpoint")
	}

	if _, err := s.kv.Put(ctx, runKey(cp.RunID), payload); err != nil {
		return errors.WrapTransient(err, "CheckpointStore", "Save",
			"store checkpoint for run "+cp.RunID)
	}
	return nil
}

// Load returns the checkpoint for a run. A run that never checkpointed
// reports errors.ErrKeyNotFound.
func (s *Store) Load(ctx context.Context, runID string) (Checkpoint, error) {
	if runID == "" {
		return Checkpoint{}, errors.WrapInvalid(errors.ErrMissingConfig,
			"CheckpointStore", "Load", "run id")
	}

	entry, err := s.kv.Get(ctx, runKey(runID))
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return Checkpoint{}, errors.WrapInvalid(errors.ErrKeyNotFound,
				"CheckpointStore", "Load", "find checkpoint for run "+runID)
		}
		return Checkpoint{}, errors.WrapTransient(err, "CheckpointStore", "Load",
			"read checkpoint for run "+runID)
	}

	var cp Checkpoint
	if err := json.Unmarshal(entry.Value, &cp); err != nil {
		return Checkpoint{}, errors.WrapInvalid(err, "CheckpointStore", "Load",
			"decode checkpoint for run "+runID)
	}
	return cp, nil
}

// Delete removes a run's checkpoint, typically after a clean finish.
func (s *Store) Delete(ctx context.Context, runID string) error {
	if runID == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"CheckpointStore", "Delete", "run id")
	}

	if err := s.kv.Delete(ctx, runKey(runID)); err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return errors.WrapInvalid(errors.ErrKeyNotFound,
				"CheckpointStore", "Delete", "find checkpoint for run "+runID)
		}
		return errors.WrapTransient(err, "CheckpointStore", "Delete",
			"delete checkpoint for run "+runID)
	}
	return nil
}

// List returns every stored checkpoint, newest first. Entries that no
// longer decode are logged and skipped rather than failing the listing.
func (s *Store) List(ctx context.Context) ([]Checkpoint, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "CheckpointStore", "List", "list checkpoint keys")
	}

	checkpoints := make([]Checkpoint, 0, len(keys))
	for _, key := range keys {
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			if natsclient.IsKVNotFoundError(err) {
				continue
			}
			return nil, errors.WrapTransient(err, "CheckpointStore", "List",
				"read checkpoint "+key)
		}
		var cp Checkpoint
		if err := json.Unmarshal(entry.Value, &cp); err != nil {
			s.logger.Warn("Skipping undecodable checkpoint", "key", key, "error", err)
			continue
		}
		checkpoints = append(checkpoints, cp)
	}

	sort.Slice(checkpoints, func(i, j int) bool {
		if !checkpoints[i].SavedAt.Equal(checkpoints[j].SavedAt) {
			return checkpoints[i].SavedAt.After(checkpoints[j].SavedAt)
		}
		return checkpoints[i].RunID < checkpoints[j].RunID
	})
	return checkpoints, nil
}

// runKey maps a run ID onto the KV key charset. UUID run IDs pass
// through unchanged; anything else has offending characters replaced.
func runKey(runID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.', r == '=':
			return r
		default:
			return '_'
		}
	}, runID)
}

// Describe renders a checkpoint for operator-facing log lines.
func (cp Checkpoint) Describe() string {
	return fmt.Sprintf("run %s: %d events emitted, last %s at %s",
		cp.RunID, cp.Emitted, cp.Stream, cp.TS.Format(time.RFC3339Nano))
}
