// Package store provides SQLite-backed recording of lockstep runs.
//
// A run is an append-only log with:
//   - Runs: one row per engine run, keyed by a UUIDv7
//   - Ticks: one row per committed tick
//   - Samples: the committed value of each recorded node at each tick
//
// # Ordering
//
// Reads order by tick and by node_id COLLATE BINARY. Wall-clock columns
// are informational and never used for ordering.
//
// # Idempotency
//
// Writes use ON CONFLICT DO NOTHING, so recording the same tick twice is
// harmless.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
