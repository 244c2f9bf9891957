// Package engine runs named units of work under a resizable concurrency
// limit. Each run waits for a slot, races its work against an optional
// timeout, observes cooperative cancellation and records exactly one
// outcome: finished, timed out, cancelled or failed.
//
// Two shapes share the same runner: Engine collects typed results, and
// Background only logs outcomes. Completed runs stay queryable for the
// lifetime of the engine.
package engine
