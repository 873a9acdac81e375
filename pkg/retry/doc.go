// Package retry provides simple exponential backoff retry logic for
// transient failures.
//
// # Overview
//
// A minimal retry mechanism for transient failures in network operations
// and resource initialization: broker publishes, JetStream bucket lookups,
// connection setup.
//
//   - Do: execute a function with retry and exponential backoff
//   - DoWithResult: same, returning both a result and an error
//
// # Configuration Presets
//
//   - DefaultConfig(): 3 attempts, 100ms-5s delay (normal operations)
//   - Quick(): 10 attempts, 50ms-1s delay (publish paths, startup)
//   - Persistent(): 30 attempts, 200ms-10s delay (critical resources)
//
// # Usage
//
// The NATS emitter retries each publish with Quick():
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//	    return conn.Publish(subject, payload)
//	})
//
// The checkpoint store opens its KV bucket with a result-returning retry:
//
//	bucket, err := retry.DoWithResult(ctx, retry.DefaultConfig(),
//	    func() (jetstream.KeyValue, error) {
//	        return js.KeyValue(ctx, bucketName)
//	    })
//
// Custom configuration:
//
//	cfg := retry.Config{
//	    MaxAttempts:  5,
//	    InitialDelay: 200 * time.Millisecond,
//	    MaxDelay:     10 * time.Second,
//	    Multiplier:   2.0,
//	    AddJitter:    true,
//	}
//	err := retry.Do(ctx, cfg, operation)
//
// # Scope
//
// Intentionally minimal: no circuit breakers (the natsclient carries its
// own), no metrics collection, no error classification. The caller decides
// what is worth retrying. All operations respect context cancellation,
// both during execution and during backoff delay, and all functions are
// safe for concurrent use.
package retry
