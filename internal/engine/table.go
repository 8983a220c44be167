package engine

import (
	"sync/atomic"

	"github.com/roach88/attrstore/internal/ir"
)

// version is one node of an entity's version chain. entity is nil when the
// commit at seq deleted the entity. Nodes are immutable except for prev,
// which compaction may cut.
type version struct {
	seq    ir.Seq
	entity *ir.Entity
	prev   atomic.Pointer[version]
}

// entityRecord holds the newest version of one entity.
type entityRecord struct {
	head atomic.Pointer[version]
}

// at returns the newest version with seq <= s, or nil if the entity did not
// exist at s.
func (r *entityRecord) at(s ir.Seq) *ir.Entity {
	for v := r.head.Load(); v != nil; v = v.prev.Load() {
		if v.seq <= s {
			return v.entity
		}
	}
	return nil
}

// latest returns the newest version regardless of publication.
func (r *entityRecord) latest() *ir.Entity {
	if v := r.head.Load(); v != nil {
		return v.entity
	}
	return nil
}

// entityTable maps EntityID to entityRecord. Ids are dense, so the table is
// a slice indexed by id. The slice header is published atomically and only
// ever grows; readers holding an older header see a prefix.
//
// Writers (the commit path) must be serialized by the caller.
type entityTable struct {
	records atomic.Pointer[[]*entityRecord]
}

func newEntityTable() *entityTable {
	t := &entityTable{}
	empty := make([]*entityRecord, 0, 64)
	t.records.Store(&empty)
	return t
}

func (t *entityTable) load() []*entityRecord {
	return *t.records.Load()
}

// nextID returns the id the next created entity will receive.
func (t *entityTable) nextID() ir.EntityID {
	return ir.EntityID(len(t.load()))
}

// get returns the record for id, or nil.
func (t *entityTable) get(id ir.EntityID) *entityRecord {
	recs := t.load()
	if id < 0 || int(id) >= len(recs) {
		return nil
	}
	return recs[id]
}

// put installs e as the newest version of e.ID at seq. A nil entity with a
// known id records a deletion.
func (t *entityTable) put(id ir.EntityID, seq ir.Seq, e *ir.Entity) {
	node := &version{seq: seq, entity: e}

	recs := t.load()
	switch {
	case int(id) < len(recs):
		rec := recs[id]
		prev := rec.head.Load()
		if prev != nil && prev.seq >= seq {
			invariantViolation("entity %d version regression: %d after %d", id, seq, prev.seq)
		}
		node.prev.Store(prev)
		rec.head.Store(node)
	case int(id) == len(recs):
		rec := &entityRecord{}
		rec.head.Store(node)
		next := append(recs, rec)
		t.records.Store(&next)
	default:
		invariantViolation("entity id %d allocated out of order (next %d)", id, len(recs))
	}
}

// snapshot returns every entity visible at s, ordered by id.
func (t *entityTable) snapshot(s ir.Seq) []*ir.Entity {
	recs := t.load()
	out := make([]*ir.Entity, 0, len(recs))
	for _, rec := range recs {
		if e := rec.at(s); e != nil {
			out = append(out, e)
		}
	}
	return out
}

// trim cuts every chain below horizon: the newest version with
// seq <= horizon is kept and its predecessors are released. Readers pinned
// at or above horizon never walk past that node.
func (t *entityTable) trim(horizon ir.Seq) int {
	released := 0
	for _, rec := range t.load() {
		for v := rec.head.Load(); v != nil; v = v.prev.Load() {
			if v.seq > horizon {
				continue
			}
			for p := v.prev.Load(); p != nil; p = p.prev.Load() {
				released++
			}
			v.prev.Store(nil)
			break
		}
	}
	return released
}

// chainLength returns the number of versions retained for id.
func (t *entityTable) chainLength(id ir.EntityID) int {
	rec := t.get(id)
	if rec == nil {
		return 0
	}
	n := 0
	for v := rec.head.Load(); v != nil; v = v.prev.Load() {
		n++
	}
	return n
}
