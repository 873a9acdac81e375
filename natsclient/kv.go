package natsclient

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/robsok/dt-replay-demo/pkg/retry"
)

// Well-known KV errors.
var (
	ErrKVKeyNotFound        = stderrors.New("kv: key not found")
	ErrKVKeyExists          = stderrors.New("kv: key already exists")
	ErrKVRevisionMismatch   = stderrors.New("kv: revision mismatch (concurrent update)")
	ErrKVMaxRetriesExceeded = stderrors.New("kv: max retries exceeded")
)

// KVEntry wraps a KV entry with its revision for CAS operations.
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// KVOptions configures KV operation behavior.
type KVOptions struct {
	MaxRetries   int           // additional CAS attempts after the first
	RetryDelay   time.Duration // initial delay between retries
	MaxDelay     time.Duration // ceiling for the backoff
	Timeout      time.Duration // per-operation timeout
	MaxValueSize int           // reject values larger than this, 0 = unlimited
}

// DefaultKVOptions returns defaults suitable for low-contention state
// like run checkpoints.
func DefaultKVOptions() KVOptions {
	return KVOptions{
		MaxRetries:   10,
		RetryDelay:   10 * time.Millisecond,
		MaxDelay:     time.Second,
		Timeout:      5 * time.Second,
		MaxValueSize: 1 << 20,
	}
}

// KVStore provides CAS-safe operations over one KV bucket.
type KVStore struct {
	bucket  jetstream.KeyValue
	options KVOptions
	logger  *slog.Logger
}

// NewKVStore wraps a bucket obtained from CreateKeyValueBucket.
func (c *Client) NewKVStore(bucket jetstream.KeyValue, opts ...func(*KVOptions)) *KVStore {
	options := DefaultKVOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &KVStore{
		bucket:  bucket,
		options: options,
		logger:  c.logger,
	}
}

func (kv *KVStore) applyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if kv.options.Timeout > 0 {
		return context.WithTimeout(ctx, kv.options.Timeout)
	}
	return ctx, func() {}
}

// Get retrieves a value with its revision for CAS operations.
func (kv *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	entry, err := kv.bucket.Get(ctx, key)
	if err != nil {
		if IsKVNotFoundError(err) {
			return nil, ErrKVKeyNotFound
		}
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}

	return &KVEntry{
		Key:      key,
		Value:    entry.Value(),
		Revision: entry.Revision(),
	}, nil
}

// Put creates or updates a key, last writer wins.
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Put(ctx, key, value)
	if err != nil {
		return 0, fmt.Errorf("kv put %s: %w", key, err)
	}
	return rev, nil
}

// Create stores a key only if it does not exist yet.
func (kv *KVStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Create(ctx, key, value)
	if err != nil {
		if IsKVConflictError(err) {
			return 0, ErrKVKeyExists
		}
		return 0, fmt.Errorf("kv create %s: %w", key, err)
	}
	return rev, nil
}

// Update performs a CAS update against an explicit revision.
func (kv *KVStore) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Update(ctx, key, value, revision)
	if err != nil {
		if IsKVConflictError(err) {
			return 0, ErrKVRevisionMismatch
		}
		return 0, fmt.Errorf("kv update %s: %w", key, err)
	}
	return rev, nil
}

func (kv *KVStore) retryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  kv.options.MaxRetries + 1,
		InitialDelay: kv.options.RetryDelay,
		MaxDelay:     kv.options.MaxDelay,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// UpdateWithRetry applies updateFn under CAS, retrying on conflicts with
// exponential backoff. A missing key is passed to updateFn as nil and
// created on success.
func (kv *KVStore) UpdateWithRetry(ctx context.Context, key string,
	updateFn func(current []byte) ([]byte, error)) error {

	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	cfg := kv.retryConfig()
	attempt := 0

	err := retry.Do(ctx, cfg, func() error {
		attempt++

		entry, err := kv.Get(ctx, key)

		var current []byte
		var revision uint64
		switch {
		case err == nil:
			current = entry.Value
			revision = entry.Revision
		case IsKVNotFoundError(err):
			// Missing key: create below with revision 0.
		default:
			return fmt.Errorf("kv get during update: %w", err)
		}

		next, err := updateFn(current)
		if err != nil {
			return retry.NonRetryable(fmt.Errorf("update function: %w", err))
		}

		if kv.options.MaxValueSize > 0 && len(next) > kv.options.MaxValueSize {
			return retry.NonRetryable(fmt.Errorf("value size %d exceeds maximum %d",
				len(next), kv.options.MaxValueSize))
		}

		if revision == 0 {
			_, err = kv.bucket.Create(ctx, key, next)
		} else {
			_, err = kv.Update(ctx, key, next, revision)
		}
		if err == nil {
			return nil
		}
		if IsKVConflictError(err) {
			kv.logger.Debug("kv CAS conflict, retrying",
				"key", key, "attempt", attempt, "max", cfg.MaxAttempts)
			return err
		}
		return fmt.Errorf("kv write %s: %w", key, err)
	})

	if err != nil && IsKVConflictError(err) {
		return ErrKVMaxRetriesExceeded
	}
	return err
}

// UpdateJSON applies updateFn to the JSON document stored at key, with
// CAS retry.
func (kv *KVStore) UpdateJSON(ctx context.Context, key string,
	updateFn func(current map[string]any) error) error {

	return kv.UpdateWithRetry(ctx, key, func(currentBytes []byte) ([]byte, error) {
		current := make(map[string]any)
		if len(currentBytes) > 0 {
			if err := json.Unmarshal(currentBytes, &current); err != nil {
				return nil, retry.NonRetryable(fmt.Errorf("unmarshal current: %w", err))
			}
		}
		if err := updateFn(current); err != nil {
			return nil, err
		}
		return json.Marshal(current)
	})
}

// Delete removes a key.
func (kv *KVStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	if err := kv.bucket.Delete(ctx, key); err != nil {
		if IsKVNotFoundError(err) {
			return ErrKVKeyNotFound
		}
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

// Keys lists the keys currently present in the bucket.
func (kv *KVStore) Keys(ctx context.Context) ([]string, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	keys, err := kv.bucket.Keys(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "no keys found") {
			return nil, nil
		}
		return nil, fmt.Errorf("kv keys: %w", err)
	}
	return keys, nil
}

// Watch creates a long-lived watcher for key changes. No timeout is
// applied.
func (kv *KVStore) Watch(ctx context.Context, pattern string) (jetstream.KeyWatcher, error) {
	watcher, err := kv.bucket.Watch(ctx, pattern)
	if err != nil {
		return nil, fmt.Errorf("kv watch %s: %w", pattern, err)
	}
	return watcher, nil
}

// IsKVNotFoundError reports whether err indicates a missing key.
func IsKVNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, ErrKVKeyNotFound) || stderrors.Is(err, jetstream.ErrKeyNotFound) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "key not found") || strings.Contains(msg, "10037")
}

// IsKVConflictError reports whether err indicates a CAS conflict, either
// key-exists on create or wrong revision on update.
func IsKVConflictError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, ErrKVRevisionMismatch) || stderrors.Is(err, ErrKVKeyExists) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "wrong last sequence") ||
		strings.Contains(msg, "10071") ||
		strings.Contains(msg, "key exists") ||
		strings.Contains(msg, "10058")
}
