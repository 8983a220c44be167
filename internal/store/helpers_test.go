package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/attrstore/internal/ir"
)

// createTestStore opens a journal in a fresh temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	return openTestStoreAt(t, filepath.Join(t.TempDir(), "test.db"))
}

// openTestStoreAt opens the journal at path and closes it when the test
// ends. Closing early is fine.
func openTestStoreAt(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// putRecord builds a put record for id at seq.
func putRecord(seq ir.Seq, id ir.EntityID, before *ir.Entity, attrs ir.Attributes) ir.MutationRecord {
	return ir.MutationRecord{
		Seq:      seq,
		EntityID: id,
		Op:       ir.OpPut,
		Before:   before,
		After:    &ir.Entity{ID: id, Version: ir.Version(seq), Attributes: attrs},
	}
}

// deleteRecord builds a delete record removing before at seq.
func deleteRecord(seq ir.Seq, before *ir.Entity) ir.MutationRecord {
	return ir.MutationRecord{Seq: seq, EntityID: before.ID, Op: ir.OpDelete, Before: before}
}

func appendAll(t *testing.T, s *Store, recs ...ir.MutationRecord) {
	t.Helper()
	for _, rec := range recs {
		if err := s.Append(context.Background(), rec); err != nil {
			t.Fatalf("Append(%d) failed: %v", rec.Seq, err)
		}
	}
}

// sampleHistory creates alice (7) with a name, gives her an avatar, then
// creates and deletes bob (8).
func sampleHistory() []ir.MutationRecord {
	alice1 := putRecord(1, 7, nil, ir.Attributes{
		ir.SymbolSymbolName: ir.Text("alice"),
		"name":              ir.Text("Alice"),
	})
	alice2 := putRecord(2, 7, alice1.After, ir.Attributes{
		ir.SymbolSymbolName: ir.Text("alice"),
		"name":              ir.Text("Alice"),
		"avatar":            ir.Bytes{0x89, 0x50, 0x4e, 0x47},
	})
	bob := putRecord(3, 8, nil, ir.Attributes{"name": ir.Text("Bob"), "parent": ir.EntityRef(7)})
	return []ir.MutationRecord{alice1, alice2, bob, deleteRecord(4, bob.After)}
}
