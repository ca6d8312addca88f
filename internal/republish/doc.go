// Package republish implements the selection + scheduling + execution core.
//
// # Overview
//
// Aged published items are periodically "republished" by rewriting their
// publish timestamp, subject to a daily quota, a time-of-day window, category
// filters, and an at-most-one-concurrent-run guarantee.
//
// The package is split along the pipeline:
//
//   - Selector picks which items qualify (type, age, category,
//     not-already-processed-today), oldest first.
//   - Quota converts the configured daily budget into a remaining-today count.
//   - Times generates one timestamp per selected item inside the window.
//   - Engine runs the mutex-guarded batch: mutate, log history, fire hooks.
//   - Retry requeues today's failures with bounded attempts.
//
// Persistence is abstracted behind the small interfaces in ports.go so the
// backing store (SQLite here) stays swappable and the core stays testable.
//
// # Concurrency
//
// At most one batch is in-flight system-wide, enforced by a named lock with a
// 10 minute staleness timeout. Lock acquisition is a single non-blocking
// attempt; contention is a normal reportable outcome, not an error. Within a
// batch, items are processed strictly sequentially.
package republish
