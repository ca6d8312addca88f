// Package storage is the SQLite persistence layer.
//
// It backs every store the core consumes:
//   - Content items (posts + category memberships)
//   - Republish history (append-mostly attempt log)
//   - The execution lock and retry counters (keyed rows with TTL)
//   - The versioned settings blob
//   - Audit and request logs (operator/API bookkeeping)
//
// A single database file holds everything; SQLite prefers one writer, so the
// pool is capped at one connection and WAL mode is enabled.
package storage
