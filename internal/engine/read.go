package engine

import (
	"context"
	"sync/atomic"

	"github.com/roach88/attrstore/internal/ir"
	"github.com/roach88/attrstore/internal/queryir"
)

// EntitySet is the result of QueryEntities: every matching entity as of Seq,
// ordered by id.
type EntitySet struct {
	Seq      ir.Seq
	Entities []*ir.Entity
}

// RowSet is the result of QueryEntityRows: one row per matching entity as of
// Seq, ordered by entity id.
type RowSet struct {
	Seq  ir.Seq
	IDs  []ir.EntityID
	Rows []ir.EntityRow
}

// Snapshot is a consistent, pinned view of the store at one seq. Compaction
// keeps every version the snapshot can see until Release is called.
type Snapshot struct {
	store    *Store
	pin      uint64
	seq      ir.Seq
	released atomic.Bool
}

// Snapshot pins the current head. Callers must Release the snapshot.
func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}
	pin, seq := s.pins.acquire(s.log.Head)
	return &Snapshot{store: s, pin: pin, seq: seq}, nil
}

// Seq returns the sequence the snapshot observes.
func (sn *Snapshot) Seq() ir.Seq { return sn.seq }

// Release unpins the snapshot. Safe to call more than once.
func (sn *Snapshot) Release() {
	if sn.released.Swap(true) {
		return
	}
	sn.store.pins.release(sn.pin)
}

// Get resolves loc as of the snapshot.
func (sn *Snapshot) Get(loc ir.EntityLocator) (*ir.Entity, error) {
	loc, err := normalizeLocator(loc)
	if err != nil {
		return nil, err
	}
	var e *ir.Entity
	switch l := loc.(type) {
	case ir.ByID:
		e = sn.store.entityAt(ir.EntityID(l), sn.seq)
	case ir.BySymbol:
		e = sn.store.entityBySymbolAt(ir.Symbol(l), sn.seq)
	}
	if e == nil {
		return nil, newError(CodeNotFound, "entity not found").withLocator(loc)
	}
	return e, nil
}

// Entities returns every live entity at the snapshot, ordered by id.
func (sn *Snapshot) Entities() []*ir.Entity {
	return sn.store.table.snapshot(sn.seq)
}

// QueryEntities evaluates root against the snapshot.
func (sn *Snapshot) QueryEntities(root queryir.Node) (EntitySet, error) {
	q := sn.store.query
	if err := q.Validate(root); err != nil {
		return EntitySet{}, err
	}
	match := q.Compile(root)
	out := EntitySet{Seq: sn.seq, Entities: []*ir.Entity{}}
	for _, e := range sn.Entities() {
		if match(e) {
			out.Entities = append(out.Entities, e)
		}
	}
	return out, nil
}

// QueryEntityRows evaluates eq against the snapshot and projects each match.
func (sn *Snapshot) QueryEntityRows(eq EntityQuery) (RowSet, error) {
	if err := sn.store.query.ValidateQuery(eq); err != nil {
		return RowSet{}, err
	}
	set, err := sn.QueryEntities(eq.Root)
	if err != nil {
		return RowSet{}, err
	}
	out := RowSet{
		Seq:  set.Seq,
		IDs:  make([]ir.EntityID, len(set.Entities)),
		Rows: make([]ir.EntityRow, len(set.Entities)),
	}
	for i, e := range set.Entities {
		out.IDs[i] = e.ID
		out.Rows[i] = Project(e, eq.AttributeTypes)
	}
	return out, nil
}

// GetEntity returns the current state of the entity loc names.
func (s *Store) GetEntity(ctx context.Context, loc ir.EntityLocator) (*ir.Entity, error) {
	sn, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	defer sn.Release()
	return sn.Get(loc)
}

// QueryEntities returns every entity matching root at one seq.
func (s *Store) QueryEntities(ctx context.Context, root queryir.Node) (EntitySet, error) {
	sn, err := s.Snapshot(ctx)
	if err != nil {
		return EntitySet{}, err
	}
	defer sn.Release()
	return sn.QueryEntities(root)
}

// QueryEntityRows returns the projected rows of every entity matching
// eq.Root at one seq.
func (s *Store) QueryEntityRows(ctx context.Context, eq EntityQuery) (RowSet, error) {
	sn, err := s.Snapshot(ctx)
	if err != nil {
		return RowSet{}, err
	}
	defer sn.Release()
	return sn.QueryEntityRows(eq)
}

func (s *Store) entityAt(id ir.EntityID, seq ir.Seq) *ir.Entity {
	rec := s.table.get(id)
	if rec == nil {
		return nil
	}
	return rec.at(seq)
}

// entityBySymbolAt resolves an alias as of seq. The index reflects the
// newest state, so a hit is confirmed against the versioned entity; on a
// miss the snapshot is scanned.
func (s *Store) entityBySymbolAt(sym ir.Symbol, seq ir.Seq) *ir.Entity {
	if v, ok := s.symbols.Load(sym); ok {
		if e := s.entityAt(v.(ir.EntityID), seq); e != nil {
			if name, ok := e.SymbolName(); ok && name == sym {
				return e
			}
		}
	}
	for _, e := range s.table.snapshot(seq) {
		if name, ok := e.SymbolName(); ok && name == sym {
			return e
		}
	}
	return nil
}

// normalizeLocator rejects malformed symbol locators.
func normalizeLocator(loc ir.EntityLocator) (ir.EntityLocator, *Error) {
	switch l := loc.(type) {
	case ir.ByID:
		return l, nil
	case ir.BySymbol:
		sym, err := ir.ParseSymbol(string(l))
		if err != nil {
			return nil, newError(CodeInvalidArgument, "%s", err.Error()).wrap(err)
		}
		return ir.BySymbol(sym), nil
	case nil:
		return nil, newError(CodeInvalidArgument, "entity locator is required")
	default:
		return nil, newError(CodeInvalidArgument, "unsupported entity locator type %T", loc)
	}
}
