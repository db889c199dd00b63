// Package store provides the SQLite-backed datastore for credsync.
//
// One database file holds both sides of a consolidation run:
//   - source_records: origin documents stored as JSON, tagged with their origin
//   - credentials: the shared target credential collection
//
// # Critical Patterns
//
// Non-unique identity:
//   - credentials.user_id has an index but no UNIQUE constraint
//   - Independent writers may create duplicates; the resolver removes them
//
// Conditional upsert:
//   - Each op runs in its own transaction and updates the first match by seq
//   - updated_at only moves when an attribute actually changed, so a re-applied
//     batch leaves the table byte-identical
//
// Deterministic ordering:
//   - All multi-row reads ORDER BY seq ASC (insertion order), with user_id
//     COLLATE BINARY first where rows are grouped
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Failures to reach the database file wrap credential.ErrUnavailable.
package store
