// Package store provides SQLite-backed storage for notification traces.
//
// The store is an append-only log with:
//   - Runs: one row per scenario execution, with its event counter and
//     trace digest
//   - Notifications: one row per observer invocation, keyed by its
//     content-addressed id
//
// # Ordering
//
// All ordering uses logical sequence numbers, never timestamps. Queries
// order by seq ASC, id ASC COLLATE BINARY so that results are identical
// across replays.
//
// # Idempotency
//
// Writes use ON CONFLICT(id) DO NOTHING. Writing the same run or
// notification twice is a no-op, which makes re-running a scenario into the
// same database safe.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Notification ids are computed by internal/trace using RFC 8785 canonical
// JSON and SHA-256 with domain separation.
package store
