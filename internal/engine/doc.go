// Package engine implements the attrstore versioned entity store.
//
// The store holds entities (id, version, attribute map), declares attribute
// types as entities of their own, evaluates query trees over consistent
// snapshots, and streams per-query change events to watchers.
//
// ARCHITECTURE:
//
// Commit Path:
// Every write runs inside one commit critical section:
//  1. Validate the request against the registry and the newest state
//  2. Build the mutation record stamped with Clock.Peek()
//  3. Append it to the journal (if any); an error aborts with no effect
//  4. Tick the clock, install the new version, publish the log head
//
// Readers and watchers observe a commit only once the log head moves, so
// the tick and the log append are one atomic step.
//
// Reads:
// GetEntity and the Query operations pin the current head and walk
// immutable per-entity version chains back to it. They never take the
// commit lock.
//
// Watches:
// Each subscription owns a goroutine that tails the shared mutation log
// from its own cursor into a bounded channel. A full channel blocks only
// that goroutine. Events are never dropped.
//
// CRITICAL PATTERNS:
//
// Logical Clock:
// Sequences come from Clock and an entity's Version is the sequence of the
// commit that produced it. Wall-clock time is used only for bookmark
// pacing.
//
// Compaction:
// Compact discards history below the lowest pinned sequence. Snapshots and
// watch cursors hold pins.
package engine
