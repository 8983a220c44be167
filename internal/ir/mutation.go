package ir

import (
	"encoding/json"
	"fmt"
)

// Seq is a position in the global mutation order. Seq 0 precedes every
// commit; the first commit is Seq 1.
type Seq int64

// MutationOp distinguishes writes from logical removals.
type MutationOp string

const (
	// OpPut records a create or update; After is set.
	OpPut MutationOp = "put"
	// OpDelete records a logical removal; After is nil.
	OpDelete MutationOp = "delete"
)

// Valid reports whether op is a known operation.
func (op MutationOp) Valid() bool {
	return op == OpPut || op == OpDelete
}

// MutationRecord is the log entry appended by exactly one commit.
//
// Before is the entity state prior to the commit (nil on creation). After is
// the state produced by the commit (nil on delete). Both are immutable.
type MutationRecord struct {
	Seq      Seq        `json:"seq"`
	EntityID EntityID   `json:"entityId"`
	Op       MutationOp `json:"op"`
	Before   *Entity    `json:"before,omitempty"`
	After    *Entity    `json:"after,omitempty"`
}

// Validate checks the structural shape of a record read from outside the
// engine, typically the journal.
func (r MutationRecord) Validate() error {
	if r.Seq <= 0 {
		return fmt.Errorf("mutation record: seq must be positive, got %d", r.Seq)
	}
	switch r.Op {
	case OpPut:
		if r.After == nil {
			return fmt.Errorf("mutation record %d: put without after state", r.Seq)
		}
		if r.After.ID != r.EntityID || r.After.Version != Version(r.Seq) {
			return fmt.Errorf("mutation record %d: after state does not match record", r.Seq)
		}
	case OpDelete:
		if r.Before == nil || r.After != nil {
			return fmt.Errorf("mutation record %d: delete must carry before state only", r.Seq)
		}
	default:
		return fmt.Errorf("mutation record %d: unknown op %q", r.Seq, r.Op)
	}
	if r.Before != nil && r.Before.ID != r.EntityID {
		return fmt.Errorf("mutation record %d: before state does not match record", r.Seq)
	}
	return nil
}

// UnmarshalMutationRecord decodes and validates a record.
func UnmarshalMutationRecord(data []byte) (MutationRecord, error) {
	var rec MutationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return MutationRecord{}, fmt.Errorf("mutation record: %w", err)
	}
	if err := rec.Validate(); err != nil {
		return MutationRecord{}, err
	}
	return rec, nil
}
