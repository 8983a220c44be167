package harness

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/attrstore/internal/engine"
	"github.com/roach88/attrstore/internal/ir"
)

// AssertionError is returned when an assertion does not hold.
type AssertionError struct {
	Type     string // assertion type
	Expected string // human-readable expected outcome
	Actual   string // human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

// evaluateAssertion checks a against the store after the last step. A
// failed assertion returns an *AssertionError; any other error means the
// assertion could not be evaluated.
func evaluateAssertion(ctx context.Context, h *harness, a Assertion) error {
	switch a.Type {
	case AssertEntityState:
		return assertEntityState(ctx, h.store, a)
	case AssertEntityAbsent:
		return assertEntityAbsent(ctx, h.store, a)
	case AssertQueryCount:
		return assertQueryCount(ctx, h.store, a)
	case AssertEventCount:
		return assertEventCount(h.result, a)
	case AssertWatchConverges:
		return assertWatchConverges(ctx, h, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertEntityState(ctx context.Context, s *engine.Store, a Assertion) error {
	loc, err := ir.ParseLocator(a.Locator)
	if err != nil {
		return err
	}
	e, err := s.GetEntity(ctx, loc)
	if engine.IsNotFound(err) {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("entity %s", loc), Actual: "not found"}
	}
	if err != nil {
		return err
	}
	if err := matchAttributes(e, a.Attributes); err != nil {
		if ae, ok := err.(*AssertionError); ok {
			ae.Type = a.Type
		}
		return err
	}
	return nil
}

func assertEntityAbsent(ctx context.Context, s *engine.Store, a Assertion) error {
	loc, err := ir.ParseLocator(a.Locator)
	if err != nil {
		return err
	}
	e, err := s.GetEntity(ctx, loc)
	switch {
	case engine.IsNotFound(err):
		return nil
	case err != nil:
		return err
	default:
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("no entity at %s", loc),
			Actual:   fmt.Sprintf("entity %d (version %d)", e.ID, e.Version),
		}
	}
}

func assertQueryCount(ctx context.Context, s *engine.Store, a Assertion) error {
	root, err := parseQuery(a.Query)
	if err != nil {
		return err
	}
	set, err := s.QueryEntities(ctx, root)
	if err != nil {
		return err
	}
	if len(set.Entities) != *a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d matches", *a.Count),
			Actual:   fmt.Sprintf("%d matches %v", len(set.Entities), entityIDs(set.Entities)),
		}
	}
	return nil
}

func assertEventCount(r *Result, a Assertion) error {
	n := 0
	for _, ev := range r.Events(a.Watch) {
		if a.Event == "" || ev.Event == ir.EventType(a.Event) {
			n++
		}
	}
	if n != *a.Count {
		what := "events"
		if a.Event != "" {
			what = a.Event + " events"
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d %s on watch %q", *a.Count, what, a.Watch),
			Actual:   fmt.Sprintf("%d", n),
		}
	}
	return nil
}

// assertWatchConverges folds the watch's events into a view and compares it
// with a fresh query. Only watches opened with initial events can converge
// on entities that matched before the watch started.
func assertWatchConverges(ctx context.Context, h *harness, a Assertion) error {
	w := h.byName[a.Watch]
	if w == nil {
		return fmt.Errorf("watch %q was never opened", a.Watch)
	}
	events := h.result.Events(a.Watch)

	if w.rows {
		want, err := h.store.QueryEntityRows(ctx, engine.EntityQuery{Root: w.root, AttributeTypes: w.symbols})
		if err != nil {
			return err
		}
		view := map[ir.EntityID]ir.EntityRow{}
		for _, ev := range events {
			switch ev.Event {
			case ir.EventAdded, ir.EventModified:
				view[*ev.EntityID] = ev.Row
			case ir.EventRemoved:
				delete(view, *ev.EntityID)
			}
		}
		if len(view) != len(want.IDs) {
			return convergeError(a, want.IDs, sortedKeys(view))
		}
		for i, id := range want.IDs {
			got, ok := view[id]
			if !ok || !rowsEqual(got, want.Rows[i]) {
				return &AssertionError{
					Type:     a.Type,
					Expected: fmt.Sprintf("row for entity %d on watch %q", id, a.Watch),
					Actual:   "a stale or missing row",
				}
			}
		}
		return nil
	}

	want, err := h.store.QueryEntities(ctx, w.root)
	if err != nil {
		return err
	}
	view := map[ir.EntityID]*ir.Entity{}
	for _, ev := range events {
		switch ev.Event {
		case ir.EventAdded, ir.EventModified:
			view[ev.Entity.ID] = ev.Entity
		case ir.EventRemoved:
			delete(view, ev.Entity.ID)
		}
	}
	if len(view) != len(want.Entities) {
		return convergeError(a, entityIDs(want.Entities), sortedKeys(view))
	}
	for _, e := range want.Entities {
		got, ok := view[e.ID]
		if !ok || got.Version != e.Version {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("entity %d at version %d on watch %q", e.ID, e.Version, a.Watch),
				Actual:   "a stale or missing entity",
			}
		}
	}
	return nil
}

func convergeError(a Assertion, want, got []ir.EntityID) error {
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("entities %v on watch %q", want, a.Watch),
		Actual:   fmt.Sprintf("%v", got),
	}
}

// matchAttributes checks that every expected attribute is set on e with an
// equal value. Attributes not named are ignored.
func matchAttributes(e *ir.Entity, want map[string]any) error {
	expected, err := parseAttributes(want)
	if err != nil {
		return err
	}
	for _, attr := range expected {
		got, ok := e.Get(attr.Symbol)
		if !ok {
			return &AssertionError{
				Type:     "attributes",
				Expected: fmt.Sprintf("%s on entity %d", attr.Symbol, e.ID),
				Actual:   "not set",
			}
		}
		if !ir.ValuesEqual(got, attr.Value) {
			return &AssertionError{
				Type:     "attributes",
				Expected: fmt.Sprintf("%s = %s", attr.Symbol, describe(attr.Value)),
				Actual:   describe(got),
			}
		}
	}
	return nil
}

// sameEntities compares two id-ordered entity lists.
func sameEntities(got, want []*ir.Entity) error {
	if len(got) != len(want) {
		return fmt.Errorf("entities %v, want %v", entityIDs(got), entityIDs(want))
	}
	for i := range want {
		g, w := got[i], want[i]
		if g.ID != w.ID || g.Version != w.Version {
			return fmt.Errorf("entity %d version %d, want entity %d version %d", g.ID, g.Version, w.ID, w.Version)
		}
		if len(g.Attributes) != len(w.Attributes) {
			return fmt.Errorf("entity %d has %d attributes, want %d", g.ID, len(g.Attributes), len(w.Attributes))
		}
		for sym, v := range w.Attributes {
			if !ir.ValuesEqual(g.Attributes[sym], v) {
				return fmt.Errorf("entity %d attribute %s = %s, want %s", g.ID, sym, describe(g.Attributes[sym]), describe(v))
			}
		}
	}
	return nil
}

func rowsEqual(a, b ir.EntityRow) bool {
	return slices.EqualFunc(a, b, ir.ValuesEqual)
}

func describe(v ir.AttributeValue) string {
	b, err := ir.MarshalAttributeValue(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func entityIDs(es []*ir.Entity) []ir.EntityID {
	out := make([]ir.EntityID, 0, len(es))
	for _, e := range es {
		out = append(out, e.ID)
	}
	return out
}

func sortedKeys[V any](m map[ir.EntityID]V) []ir.EntityID {
	out := make([]ir.EntityID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
