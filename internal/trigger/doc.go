// Package trigger runs the time-based entry points: the periodic republish
// batch, follow-up retry passes with exponential backoff, and the daily
// history purge.
//
// The service can be started/stopped at runtime (config hot reload). The
// batch honors the cron_enabled setting on every fire, so toggling it in the
// admin surface takes effect without a restart. On-demand API runs bypass
// this service entirely; single-flight is the engine lock's job, not ours.
package trigger
