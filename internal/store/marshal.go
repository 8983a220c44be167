package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/attrstore/internal/ir"
)

// marshalRecord converts a mutation record to canonical JSON TEXT and its
// content digest.
func marshalRecord(rec ir.MutationRecord) (string, string, error) {
	data, err := ir.MarshalCanonical(rec)
	if err != nil {
		return "", "", fmt.Errorf("marshal record %d: %w", rec.Seq, err)
	}
	digest, err := ir.RecordDigest(rec)
	if err != nil {
		return "", "", fmt.Errorf("marshal record %d: %w", rec.Seq, err)
	}
	return string(data), digest, nil
}

// unmarshalRecord parses a stored record and checks it against the digest
// written with it. A mismatch means the row was altered outside the journal.
func unmarshalRecord(data, digest string) (ir.MutationRecord, error) {
	rec, err := ir.UnmarshalMutationRecord([]byte(data))
	if err != nil {
		return ir.MutationRecord{}, err
	}
	got, err := ir.RecordDigest(rec)
	if err != nil {
		return ir.MutationRecord{}, err
	}
	if got != digest {
		return ir.MutationRecord{}, fmt.Errorf("record %d digest %s, stored %s", rec.Seq, got, digest)
	}
	return rec, nil
}

// marshalEntity converts an entity to canonical JSON TEXT.
func marshalEntity(e *ir.Entity) (string, error) {
	data, err := ir.MarshalCanonical(e)
	if err != nil {
		return "", fmt.Errorf("marshal entity %d: %w", e.ID, err)
	}
	return string(data), nil
}

// unmarshalEntity parses entity JSON TEXT.
func unmarshalEntity(data string) (*ir.Entity, error) {
	var e ir.Entity
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, fmt.Errorf("unmarshal entity: %w", err)
	}
	if e.Attributes == nil {
		e.Attributes = ir.Attributes{}
	}
	return &e, nil
}
