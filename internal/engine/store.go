package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/attrstore/internal/ir"
	"github.com/roach88/attrstore/internal/registry"
)

// Store is the versioned entity store.
//
// Thread-safety model:
//   - Writes (UpdateEntity, DeleteEntity, CreateAttributeType, Compact) are
//     serialized by one commit lock. Inside it a commit validates, ticks the
//     clock, appends to the journal and publishes; nothing becomes visible
//     until the log head moves.
//   - Reads (GetEntity, Query*, Snapshot) take no lock. They fix a seq from
//     the log head and walk immutable version chains back to it.
//   - Each watch runs in its own goroutine with its own log cursor.
//
// INVARIANTS:
//   - Exactly one mutation record per commit; record seqs are 1, 2, 3, ...
//   - An entity's Version is the seq of the commit that produced it
//   - Entity ids are dense and never reused
type Store struct {
	mu     sync.Mutex // commit lock
	clock  *Clock
	log    *mutationLog
	table  *entityTable
	types  *registry.Registry
	query  *QueryEngine
	pins   *pinSet
	closed atomic.Bool
	done   chan struct{}

	// symbols maps @symbolName values to entity ids. Written only under
	// the commit lock; readers verify hits against a versioned entity.
	symbols sync.Map

	journal Journal
	logger  *slog.Logger
	metrics *Metrics
	ids     IDGenerator

	bookmarkInterval time.Duration
	queueSize        int
	maxSubscriptions int
	readBatch        int

	activeSubs atomic.Int64
	subsWG     sync.WaitGroup
}

// Open creates a store. With a journal, every persisted record is
// replayed first and bootstrap runs only if the journal is empty.
// Without one the store is in-memory and always bootstraps.
func Open(ctx context.Context, opts ...StoreOption) (*Store, error) {
	types := registry.New()
	s := &Store{
		clock:            NewClock(),
		log:              newMutationLog(0),
		table:            newEntityTable(),
		types:            types,
		query:            NewQueryEngine(types),
		pins:             newPinSet(),
		done:             make(chan struct{}),
		logger:           slog.Default(),
		ids:              UUIDv7Generator{},
		bookmarkInterval: DefaultBookmarkInterval,
		queueSize:        DefaultQueueSize,
		maxSubscriptions: DefaultMaxSubscriptions,
		readBatch:        DefaultReadBatch,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.journal != nil {
		n, err := s.replay(ctx)
		if err != nil {
			return nil, fmt.Errorf("replay journal: %w", err)
		}
		if n > 0 {
			s.logger.Info("journal replayed", "records", n, "head", s.log.Head())
			return s, nil
		}
	}

	if err := s.bootstrap(ctx); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return s, nil
}

// New creates an in-memory store. It panics if bootstrap fails, which
// cannot happen without a journal.
func New(opts ...StoreOption) *Store {
	s, err := Open(context.Background(), opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// bootstrap commits the six bootstrap entities as seqs 1..6.
func (s *Store) bootstrap(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, attrs := range ir.BootstrapAttributes() {
		id := ir.EntityID(i)
		if next := s.table.nextID(); next != id {
			invariantViolation("bootstrap entity %d allocated as %d", i, next)
		}
		if _, err := s.commitLocked(ctx, id, ir.OpPut, nil, attrs); err != nil {
			return err
		}
	}
	s.logger.Debug("store bootstrapped", "head", s.log.Head())
	return nil
}

// replay rebuilds state from the journal. Records must be contiguous from
// seq 1 and must allocate ids densely.
func (s *Store) replay(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	err := s.journal.Replay(ctx, func(rec ir.MutationRecord) error {
		if err := rec.Validate(); err != nil {
			return err
		}
		if want := s.clock.Peek(); rec.Seq != want {
			return fmt.Errorf("journal gap: got seq %d, want %d", rec.Seq, want)
		}
		current := s.latest(rec.EntityID)
		switch {
		case current == nil && rec.Before != nil:
			return fmt.Errorf("record %d: entity %d has before state but does not exist", rec.Seq, rec.EntityID)
		case current == nil && rec.EntityID != s.table.nextID():
			return fmt.Errorf("record %d: entity %d created out of order (next %d)", rec.Seq, rec.EntityID, s.table.nextID())
		case current != nil && rec.Before == nil:
			return fmt.Errorf("record %d: entity %d exists but record has no before state", rec.Seq, rec.EntityID)
		}
		if err := s.registerType(rec.After); err != nil {
			return fmt.Errorf("record %d: %w", rec.Seq, err)
		}
		s.clock.Next()
		s.apply(rec)
		n++
		return nil
	})
	if err != nil {
		return n, err
	}
	if n > 0 && n < ir.BootstrapEntityCount {
		return n, fmt.Errorf("journal holds %d records, fewer than the bootstrap set", n)
	}
	return n, nil
}

// commitLocked stamps, journals and publishes one mutation.
// Callers hold s.mu and have validated the request.
func (s *Store) commitLocked(ctx context.Context, id ir.EntityID, op ir.MutationOp, before *ir.Entity, attrs ir.Attributes) (ir.MutationRecord, error) {
	seq := s.clock.Peek()
	rec := ir.MutationRecord{Seq: seq, EntityID: id, Op: op, Before: before}
	if op == ir.OpPut {
		rec.After = &ir.Entity{ID: id, Version: ir.Version(seq), Attributes: attrs}
	}
	if before != nil && ir.Version(seq) <= before.Version {
		invariantViolation("entity %d version %d not after %d", id, seq, before.Version)
	}

	if s.journal != nil {
		if err := s.journal.Append(ctx, rec); err != nil {
			s.logger.Error("journal append failed", "seq", seq, "entity", id, "error", err)
			return ir.MutationRecord{}, newError(CodeInternal, "journal append failed").wrap(err)
		}
	}

	if got := s.clock.Next(); got != seq {
		invariantViolation("clock collision: ticked %d, expected %d", got, seq)
	}
	if err := s.registerType(rec.After); err != nil {
		invariantViolation("register validated type: %v", err)
	}
	s.apply(rec)

	s.metrics.commit(op, seq, s.log.Len())
	s.logger.Debug("commit", "seq", seq, "entity", id, "op", op)
	return rec, nil
}

// apply publishes rec to the table, the symbol index and the log, in that
// order. Once the log head moves, readers can see the new version.
func (s *Store) apply(rec ir.MutationRecord) {
	s.table.put(rec.EntityID, rec.Seq, rec.After)
	s.indexSymbols(rec.EntityID, rec.Before, rec.After)
	s.log.append(rec)
}

// registerType adds the attribute type declared by e, if any and not yet
// registered.
func (s *Store) registerType(e *ir.Entity) error {
	at, ok := declaredType(e)
	if !ok {
		return nil
	}
	if existing, ok := s.types.Lookup(at.Symbol); ok {
		if existing.EntityID == e.ID && existing.Type.ValueKind == at.ValueKind {
			return nil
		}
		return fmt.Errorf("attribute type %q redeclared by entity %d", at.Symbol, e.ID)
	}
	_, err := s.types.Register(at, e.ID)
	return err
}

// declaredType extracts the (symbol, kind) pair an attribute-type entity
// declares.
func declaredType(e *ir.Entity) (ir.AttributeType, bool) {
	if e == nil {
		return ir.AttributeType{}, false
	}
	name, ok := e.SymbolName()
	if !ok {
		return ir.AttributeType{}, false
	}
	marker, ok := e.Attributes[ir.SymbolValueType].(ir.EntityRef)
	if !ok {
		return ir.AttributeType{}, false
	}
	kind, ok := ir.KindForMarker(ir.EntityID(marker))
	if !ok {
		return ir.AttributeType{}, false
	}
	return ir.AttributeType{Symbol: name, ValueKind: kind}, true
}

func (s *Store) indexSymbols(id ir.EntityID, before, after *ir.Entity) {
	var oldName, newName ir.Symbol
	var hadOld, hasNew bool
	if before != nil {
		oldName, hadOld = before.SymbolName()
	}
	if after != nil {
		newName, hasNew = after.SymbolName()
	}
	if hadOld && (!hasNew || oldName != newName) {
		s.symbols.CompareAndDelete(oldName, id)
	}
	if hasNew {
		s.symbols.Store(newName, id)
	}
}

// latest returns the newest state of id, including unpublished state of a
// commit in flight. Only the commit path may call it.
func (s *Store) latest(id ir.EntityID) *ir.Entity {
	rec := s.table.get(id)
	if rec == nil {
		return nil
	}
	return rec.latest()
}

// latestBySymbol resolves an alias against the newest state. Only the
// commit path may call it.
func (s *Store) latestBySymbol(sym ir.Symbol) *ir.Entity {
	v, ok := s.symbols.Load(sym)
	if !ok {
		return nil
	}
	e := s.latest(v.(ir.EntityID))
	if e == nil {
		return nil
	}
	if name, ok := e.SymbolName(); !ok || name != sym {
		return nil
	}
	return e
}

// Registry exposes the attribute-type registry. Callers must not register
// types directly; use CreateAttributeType.
func (s *Store) Registry() *registry.Registry {
	return s.types
}

// QueryEngine returns the engine used to validate and compile queries.
func (s *Store) QueryEngine() *QueryEngine {
	return s.query
}

// Head returns the seq of the last committed mutation.
func (s *Store) Head() ir.Seq {
	return s.log.Head()
}

// LogLen returns the number of mutation records retained in memory.
func (s *Store) LogLen() int {
	return s.log.Len()
}

// Close shuts the store down. Open subscriptions end with CodeUnavailable
// and Close waits for their goroutines to exit. Close does not close the
// journal; its owner does. Calling Close twice is safe.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed.Swap(true) {
		s.mu.Unlock()
		return nil
	}
	close(s.done)
	s.log.close()
	s.mu.Unlock()

	s.subsWG.Wait()
	s.logger.Info("store closed", "head", s.log.Head())
	return nil
}

// Closed reports whether Close has been called.
func (s *Store) Closed() bool {
	return s.closed.Load()
}
