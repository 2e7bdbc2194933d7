// Package store provides the SQLite backing store for roomtodo: the
// durable todos, connections and users tables plus the row-level change
// notifications that feed realtime clients.
//
// Store implements remote.RemoteStore in-process. Every committed insert,
// update or delete is published to a feed.Broker as a ChangeEvent carrying
// the full row (the removed row for DELETE).
//
// # Critical Patterns
//
// Single Writer:
//   - One connection (SetMaxOpenConns(1)) and a write mutex held across
//     commit and publish, so feed order equals commit order.
//
// Server-Assigned Fields:
//   - todos.id (AUTOINCREMENT), todos.created_at (injected clock) and
//     connections.id (UUIDv7) are assigned here and can never be patched.
//
// Deterministic Query Results:
//   - Every SELECT carries an ORDER BY ending in an id tiebreaker.
//
// Parameterised SQL:
//   - Column names come from the fixed table schema; values are always
//     bound with ? placeholders.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON
package store
