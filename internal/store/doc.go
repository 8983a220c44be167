// Package store provides the SQLite journal behind a durable attrstore.
//
// The journal is an append-only log of mutation records. Two tables are
// materialized from it in the same transaction as each append:
//   - mutations: one row per commit, canonical record JSON and its digest
//   - entities: latest state per entity id, with a deleted flag
//   - entity_attributes: (entity_id, symbol) pairs of live entities
//
// # Critical Patterns
//
// Logical time only: every ordering uses seq (the store's version clock),
// never timestamps, so replay is deterministic.
//
// Content digests: each record is stored with the SHA-256 of its canonical
// JSON (see ir.RecordDigest). Replay recomputes the digest and refuses rows
// that do not match.
//
// Deterministic results: every multi-row query carries an ORDER BY on seq or
// entity_id.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
