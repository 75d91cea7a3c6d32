// Package store provides durable storage for payment rails, listing prices,
// purchases and entitlements.
//
// SQLite is the default backend; PostgreSQL is supported through lib/pq.
// Queries are written with ? placeholders and rebound for PostgreSQL.
//
// # Purchase lifecycle
//
// A purchase is created pending and moves at most once, to completed or
// failed. Every transition is a single UPDATE guarded by status = 'pending'
// and checked through RowsAffected, so a request handler and the
// reconciliation worker may race on the same purchase, even from different
// processes, and exactly one of them wins.
//
// Completion and the entitlement grant share one transaction. When the
// guarded UPDATE affects no rows the transaction is rolled back and
// ErrNotPending is returned.
//
// # Replay protection
//
// UNIQUE(rail, chain_id, tx_reference) covers every purchase regardless of
// status. CreatePendingPurchase checks it explicitly and maps constraint
// violations from either driver to ErrReplay.
//
// # Database Configuration (SQLite)
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
