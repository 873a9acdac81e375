// Package checkpoint persists replay run recovery points in a NATS KV
// bucket. Each run stores at most one checkpoint, the last successfully
// emitted event, so an aborted run can resume from where it stopped
// instead of starting over.
//
// The Recorder bridges the scheduler to the store:
//
//	store, err := checkpoint.Open(ctx, client)
//	rec, err := checkpoint.NewRecorder(store, runID)
//	defer rec.Close(ctx)
//
//	sched := replay.NewScheduler(emitter, replay.WithEmitHook(rec.Record))
//
// Resuming is a start-bound override: load the checkpoint and replay
// from its TS. The boundary event may be emitted twice, none are lost.
package checkpoint
