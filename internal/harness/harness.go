package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/attrstore/internal/engine"
	"github.com/roach88/attrstore/internal/ir"
	"github.com/roach88/attrstore/internal/queryir"
	"github.com/roach88/attrstore/internal/store"
	"github.com/roach88/attrstore/internal/testutil"
)

const (
	bookmarkInterval = 2 * time.Millisecond
	eventTimeout     = 5 * time.Second
)

// harness is the state of one scenario run.
type harness struct {
	ctx     context.Context
	store   *engine.Store
	journal *store.Store
	ids     *testutil.SequentialIDs
	logger  *slog.Logger
	result  *Result
	step    int

	watches []*watch // open watches in open order
	byName  map[string]*watch
}

// watch is a subscription opened by a watch step.
type watch struct {
	name    string
	rows    bool
	root    queryir.Node
	symbols []ir.Symbol
	start   ir.Seq

	next  func(time.Duration) (TraceEvent, error)
	close func()

	synced ir.Seq // highest bookmark received
	open   bool
}

// Run executes a scenario against a fresh store and returns the result.
//
// Each scenario runs in its own store with sequential subscription ids and
// a short bookmark interval. After every step the harness reads each open
// watch up to a bookmark at the store head, so the trace holds every event
// the step caused, in watch open order.
//
// Run returns an error only when the scenario cannot be executed. Failed
// expectations are reported in Result.Errors.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	h := &harness{
		ctx:    ctx,
		ids:    testutil.NewSequentialIDs("sub"),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		result: NewResult(),
		byName: map[string]*watch{},
	}

	opts := []engine.StoreOption{
		engine.WithLogger(h.logger),
		engine.WithIDGenerator(h.ids),
		engine.WithBookmarkInterval(bookmarkInterval),
	}
	if scenario.Journal {
		st, err := store.Open(":memory:")
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory journal: %w", err)
		}
		defer st.Close()
		h.journal = st
		opts = append(opts, engine.WithJournal(st))
	}

	s, err := engine.Open(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	h.store = s
	defer s.Close()
	defer h.closeWatches()

	for i := range scenario.Steps {
		h.step = i + 1
		if err := h.runStep(i+1, &scenario.Steps[i]); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, scenario.Steps[i].Op, err)
		}
		if err := h.sync(); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, scenario.Steps[i].Op, err)
		}
	}
	h.result.Head = s.Head()

	for i, a := range scenario.Assertions {
		if err := evaluateAssertion(ctx, h, a); err != nil {
			var ae *AssertionError
			if !errors.As(err, &ae) {
				return nil, fmt.Errorf("assertions[%d]: %w", i, err)
			}
			h.result.AddError(fmt.Sprintf("assertions[%d]: %s", i, ae.Error()))
		}
	}

	if h.journal != nil {
		if err := h.verifyReplay(); err != nil {
			h.result.AddError(err.Error())
		}
	}
	return h.result, nil
}

func (h *harness) runStep(n int, st *Step) error {
	entry := TraceEvent{Step: n, Op: st.Op}
	var (
		entity *ir.Entity
		count  *int
		err    error
	)

	switch st.Op {
	case OpCreateAttributeType:
		kind, kerr := ir.ParseValueKind(st.Kind)
		if kerr != nil {
			return kerr
		}
		entity, err = h.store.CreateAttributeType(h.ctx, ir.AttributeType{Symbol: ir.Symbol(st.Symbol), ValueKind: kind})

	case OpUpdate:
		loc, lerr := ir.ParseLocator(st.Locator)
		if lerr != nil {
			return lerr
		}
		entries, eerr := st.updateEntries(loc)
		if eerr != nil {
			return eerr
		}
		entity, err = h.store.UpdateEntity(h.ctx, engine.UpdateRequest{Locator: loc, Attributes: entries})

	case OpDelete, OpGet:
		loc, lerr := ir.ParseLocator(st.Locator)
		if lerr != nil {
			return lerr
		}
		if st.Op == OpDelete {
			entity, err = h.store.DeleteEntity(h.ctx, loc)
		} else {
			entity, err = h.store.GetEntity(h.ctx, loc)
		}

	case OpQuery:
		root, qerr := parseQuery(st.Query)
		if qerr != nil {
			return qerr
		}
		syms, serr := parseSymbols(st.AttributeTypes)
		if serr != nil {
			return serr
		}
		if len(syms) > 0 {
			var rows engine.RowSet
			if rows, err = h.store.QueryEntityRows(h.ctx, engine.EntityQuery{Root: root, AttributeTypes: syms}); err == nil {
				entry.IDs, entry.Rows = rows.IDs, rows.Rows
				count = intPtr(len(rows.IDs))
			}
		} else {
			var set engine.EntitySet
			if set, err = h.store.QueryEntities(h.ctx, root); err == nil {
				for _, e := range set.Entities {
					entry.IDs = append(entry.IDs, e.ID)
				}
				count = intPtr(len(set.Entities))
			}
		}

	case OpWatch:
		var w *watch
		if w, err = h.openWatch(st); err == nil {
			h.watches = append(h.watches, w)
			h.byName[w.name] = w
			entry.Watch = w.name
		}

	case OpCloseWatch:
		w := h.byName[st.Watch]
		if w == nil {
			return fmt.Errorf("watch %q was never opened", st.Watch)
		}
		if w.open {
			w.close()
			w.open = false
		}
		entry.Watch = w.name

	case OpCompact:
		_, err = h.store.Compact(h.ctx)
	}

	entry.Seq = h.store.Head()
	if st.Op == OpWatch && err == nil {
		entry.Seq = h.byName[st.Watch].start
	}
	entry.Entity, entry.Count = entity, count

	code, cerr := errorCode(err)
	if cerr != nil {
		return cerr
	}
	entry.Error = code
	h.result.addStep(entry)
	h.checkExpect(n, st, entity, count, code)
	return nil
}

// errorCode maps a store error to its code. Errors that are not store
// errors abort the run.
func errorCode(err error) (string, error) {
	if err == nil {
		return "", nil
	}
	var se *engine.Error
	if !errors.As(err, &se) {
		return "", err
	}
	return string(se.Code), nil
}

func (h *harness) checkExpect(n int, st *Step, entity *ir.Entity, count *int, code string) {
	fail := func(format string, args ...any) {
		h.result.AddError(fmt.Sprintf("step %d (%s): ", n, st.Op) + fmt.Sprintf(format, args...))
	}

	want := st.Expect
	if want == nil {
		want = &Expect{}
	}
	if code != want.Error {
		switch {
		case want.Error == "":
			fail("unexpected error %s", code)
		case code == "":
			fail("expected error %s, got success", want.Error)
		default:
			fail("expected error %s, got %s", want.Error, code)
		}
		return
	}
	if code != "" {
		return
	}

	if want.ID != nil {
		switch {
		case entity == nil:
			fail("expected entity %d, got none", *want.ID)
		case int64(entity.ID) != *want.ID:
			fail("expected entity %d, got %d", *want.ID, entity.ID)
		}
	}
	if len(want.Attributes) > 0 {
		if entity == nil {
			fail("expected attributes, got no entity")
		} else if err := matchAttributes(entity, want.Attributes); err != nil {
			fail("%s", err)
		}
	}
	if want.Count != nil {
		switch {
		case count == nil:
			fail("expected %d results, step returns no count", *want.Count)
		case *count != *want.Count:
			fail("expected %d results, got %d", *want.Count, *count)
		}
	}
}

func (h *harness) openWatch(st *Step) (*watch, error) {
	root, err := parseQuery(st.Query)
	if err != nil {
		return nil, err
	}
	syms, err := parseSymbols(st.AttributeTypes)
	if err != nil {
		return nil, err
	}
	w := &watch{name: st.Watch, root: root, symbols: syms, synced: -1, open: true}

	if len(syms) == 0 {
		sub, err := h.store.WatchEntities(h.ctx, engine.WatchRequest{Root: root, SendInitialEvents: st.Initial})
		if err != nil {
			return nil, err
		}
		w.start, w.close = sub.StartSeq(), sub.Close
		w.next = func(d time.Duration) (TraceEvent, error) {
			ev, err := testutil.Next(sub.Events(), d)
			if err != nil {
				return TraceEvent{}, streamError(err, sub.Err())
			}
			return TraceEvent{Event: ev.Type, Seq: ev.Seq, Entity: ev.Entity}, nil
		}
	} else {
		sub, err := h.store.WatchEntityRows(h.ctx, engine.WatchRowsRequest{Root: root, AttributeTypes: syms, SendInitialEvents: st.Initial})
		if err != nil {
			return nil, err
		}
		w.rows = true
		w.start, w.close = sub.StartSeq(), sub.Close
		w.next = func(d time.Duration) (TraceEvent, error) {
			ev, err := testutil.Next(sub.Events(), d)
			if err != nil {
				return TraceEvent{}, streamError(err, sub.Err())
			}
			out := TraceEvent{Event: ev.Type, Seq: ev.Seq}
			if ev.Type != ir.EventBookmark {
				id := ev.EntityID
				out.EntityID, out.Row = &id, ev.Row
			}
			return out, nil
		}
	}
	return w, nil
}

func streamError(err, subErr error) error {
	if subErr != nil {
		return fmt.Errorf("%w: %w", err, subErr)
	}
	return err
}

// sync reads every open watch up to a bookmark at the current head.
func (h *harness) sync() error {
	for _, w := range h.watches {
		if !w.open {
			continue
		}
		if err := h.syncWatch(w); err != nil {
			return fmt.Errorf("watch %q: %w", w.name, err)
		}
	}
	return nil
}

func (h *harness) syncWatch(w *watch) error {
	head := h.store.Head()
	for w.synced < head {
		ev, err := w.next(eventTimeout)
		if err != nil {
			return err
		}
		if ev.Event == ir.EventBookmark {
			w.synced = ev.Seq
			continue
		}
		ev.Watch = w.name
		ev.Step = h.step
		h.result.addEvent(ev)
	}
	return nil
}

func (h *harness) closeWatches() {
	for _, w := range h.watches {
		if w.open {
			w.close()
			w.open = false
		}
	}
}

// verifyReplay opens a second store over the journal and compares its
// state, and the journal's own SQL view, with the live store.
func (h *harness) verifyReplay() error {
	live, err := h.store.Snapshot(h.ctx)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	defer live.Release()
	want := live.Entities()

	replayed, err := engine.Open(h.ctx, engine.WithJournal(h.journal), engine.WithLogger(h.logger))
	if err != nil {
		return fmt.Errorf("replay: failed to open store: %w", err)
	}
	defer replayed.Close()
	if replayed.Head() != h.store.Head() {
		return fmt.Errorf("replay: head %d, want %d", replayed.Head(), h.store.Head())
	}
	snap, err := replayed.Snapshot(h.ctx)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	defer snap.Release()
	if err := sameEntities(snap.Entities(), want); err != nil {
		return fmt.Errorf("replay: %w", err)
	}

	stored, err := h.journal.QueryEntities(h.ctx, queryir.MatchAll{})
	if err != nil {
		return fmt.Errorf("journal query: %w", err)
	}
	if err := sameEntities(stored, want); err != nil {
		return fmt.Errorf("journal query: %w", err)
	}
	return nil
}

func intPtr(n int) *int { return &n }
