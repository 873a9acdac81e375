// Package natsclient provides the NATS client shared by the replay, archive,
// twin, and feed binaries, with circuit breaker protection, automatic
// reconnection, and JetStream/KV support.
//
// The package wraps the standard NATS Go client with reliability features:
// a circuit breaker that fails fast after repeated connection failures,
// exponential backoff between recovery probes, health monitoring with RTT
// gauges, and context propagation on every blocking operation.
//
// # Connection Lifecycle
//
// The client moves through Disconnected → Connecting → Connected →
// Reconnecting states, opening the circuit after five consecutive failures
// (configurable). While the circuit is open every operation returns
// ErrCircuitOpen without touching the network; after the backoff elapses the
// next Connect attempt is allowed through.
//
// Basic usage:
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("dt-replay"),
//	    natsclient.WithMetricsRegistry(registry),
//	)
//	if err != nil {
//	    return err
//	}
//
//	ctx := context.Background()
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	// Publish replay events
//	err = client.Publish(ctx, "lab.weights", payload)
//
//	// Subscribe with a per-message context (30s deadline)
//	err = client.Subscribe(ctx, "lab.>", func(msgCtx context.Context, data []byte) {
//	    process(msgCtx, data)
//	})
//
// QueueSubscribe lets several archiver instances share one subject without
// duplicate delivery:
//
//	err = client.QueueSubscribe(ctx, "lab.>", "archive", handler)
//
// # JetStream
//
// When durable delivery is configured, EnsureStream provisions the stream
// idempotently and PublishToStream publishes with acknowledgment:
//
//	_, err = client.EnsureStream(ctx, jetstream.StreamConfig{
//	    Name:     "REPLAY",
//	    Subjects: []string{"lab.>"},
//	})
//	err = client.PublishToStream(ctx, "lab.weights", payload)
//
// # Key-Value Store
//
// KVStore layers CAS retry logic over a NATS KV bucket. Replay runs keep
// their checkpoints here so an interrupted run can resume:
//
//	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
//	    Bucket:  "replay-checkpoints",
//	    History: 5,
//	})
//	store := client.NewKVStore(bucket)
//
//	err = store.UpdateJSON(ctx, runID, func(state map[string]any) error {
//	    state["seq"] = lastSeq
//	    return nil
//	})
//
// UpdateWithRetry re-reads the current value and reapplies the update
// function on every CAS conflict, so the function must be idempotent. After
// the configured attempts are exhausted it returns ErrKVMaxRetriesExceeded.
//
// # Testing
//
// TestClient starts a containerized NATS server and connects a Client to it:
//
//	func TestMyComponent(t *testing.T) {
//	    tc := natsclient.NewTestClient(t, natsclient.WithKV())
//	    // tc.Client is connected; cleanup runs automatically
//	}
//
// NewSharedTestClient is the TestMain variant that returns errors instead of
// failing a test.
package natsclient
