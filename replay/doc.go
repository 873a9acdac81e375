// Package replay implements the time-ordered replay core: loading
// recorded tabular streams, merging them chronologically, and pacing
// emission against the wall clock.
//
// # Pipeline
//
// Each configured stream is a CSV source with a timestamp column. The
// Loader reads every stream (concurrently via LoadAll), applies renames,
// type coercions, the optional CEL row filter, and column projection,
// parses timestamps to UTC, and returns records sorted ascending. Clip
// restricts sorted records to an inclusive window. The Scheduler then
// merges all streams through a priority heap keyed by (timestamp,
// tie-break sequence) and emits each event at
//
//	wallStart + (ts - simStart) / speed
//
// A wait longer than the gap ceiling (2s) is clamped and the anchor
// shifted, so multi-hour recorded gaps compress to a short pause while
// later events keep their speed-scaled spacing. Events are never
// reordered or dropped to catch up; when the loop falls behind it emits
// immediately and the lag is visible as a metric.
//
// # Usage
//
//	loader := replay.NewLoader(logger, metrics)
//	results, err := loader.LoadAll(ctx, cfg.Replay.Streams)
//	if err != nil {
//		return err
//	}
//
//	sched := replay.NewScheduler(emitter,
//		replay.WithSpeed(cfg.Replay.Speed),
//		replay.WithLogger(logger),
//		replay.WithMetrics(metrics))
//	if err := sched.Arm(results, start, end); err != nil {
//		return err
//	}
//	return sched.Run(ctx)
//
// Ordering is deterministic: equal timestamps replay in heap push order,
// which follows the configured stream order and is repeatable across runs
// on identical input.
//
// LivePublisher is the alternative driving mode: it ignores recorded
// timestamps and streams shuffled events at a fixed interval until
// canceled.
package replay
