package engine

import (
	"bytes"
	"context"
	"errors"
	"unicode/utf8"

	"github.com/roach88/attrstore/internal/ir"
	"github.com/roach88/attrstore/internal/registry"
)

// UpdateRequest addresses one entity and lists the attributes to set or
// clear. Entries apply atomically as one commit.
type UpdateRequest struct {
	Locator    ir.EntityLocator
	Attributes []ir.AttributeToUpdate
}

// UpdateEntity applies req as a single commit and returns the new state.
//
// Creation policy: a ByID locator must name an existing entity (else
// NotFound). A BySymbol locator that does not resolve creates a new entity
// only when req sets @symbolName to exactly that symbol; otherwise the
// request fails with InvalidArgument because repeating it would not be
// idempotent.
//
// Every successful update commits, even when the resulting attributes equal
// the previous ones, so the returned Version is always new.
func (s *Store) UpdateEntity(ctx context.Context, req UpdateRequest) (*ir.Entity, error) {
	e, err := s.updateEntity(ctx, req)
	if err != nil {
		s.metrics.commitFailed(err)
		s.logger.Debug("update rejected", "locator", locatorString(req.Locator), "error", err)
		return nil, err
	}
	return e, nil
}

func (s *Store) updateEntity(ctx context.Context, req UpdateRequest) (*ir.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	loc, lerr := normalizeLocator(req.Locator)
	if lerr != nil {
		return nil, lerr
	}
	req.Locator = loc
	entries, err := s.checkEntries(req.Attributes)
	if err != nil {
		return nil, err.withLocator(req.Locator)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return nil, ErrClosed
	}

	id, before, err := s.resolveForUpdate(req.Locator, entries)
	if err != nil {
		return nil, err.withLocator(req.Locator)
	}
	if before != nil && ir.IsBootstrap(id) {
		return nil, newError(CodeFailedPrecondition, "bootstrap entities are read-only").withLocator(req.Locator)
	}

	var base ir.Attributes
	if before != nil {
		base = before.Attributes
	}
	next := base.Clone()
	for _, u := range entries {
		if u.Value == nil {
			delete(next, u.Symbol)
		} else {
			next[u.Symbol] = u.Value
		}
	}

	if err := s.checkState(id, before, entries); err != nil {
		return nil, err.withLocator(req.Locator)
	}
	if err := s.checkPreconditions(req, before); err != nil {
		return nil, err.withLocator(req.Locator)
	}

	rec, cerr := s.commitLocked(ctx, id, ir.OpPut, before, next)
	if cerr != nil {
		return nil, cerr
	}
	return rec.After, nil
}

// checkPreconditions is where conditional-update checks (expected version,
// compare-and-swap) plug in. No condition is defined yet, so it accepts
// every request. A failing check must return CodeFailedPrecondition.
func (s *Store) checkPreconditions(_ UpdateRequest, _ *ir.Entity) *Error {
	return nil
}

// checkEntries validates entries against the registry without touching
// entity state. The returned entries own their Bytes values, so callers may
// reuse their buffers after the commit.
func (s *Store) checkEntries(in []ir.AttributeToUpdate) ([]ir.AttributeToUpdate, *Error) {
	out := make([]ir.AttributeToUpdate, 0, len(in))
	seen := make(map[ir.Symbol]bool, len(in))
	for _, u := range in {
		if !u.Symbol.Valid() {
			return nil, newError(CodeInvalidArgument, "%q is not a valid symbol name", string(u.Symbol))
		}
		if u.Symbol == ir.SymbolEntityID {
			return nil, newError(CodeInvalidArgument, "@id is derived from the entity and cannot be written").withSymbol(u.Symbol)
		}
		if seen[u.Symbol] {
			return nil, newError(CodeInvalidArgument, "attribute listed more than once").withSymbol(u.Symbol)
		}
		seen[u.Symbol] = true

		kind, err := s.types.Resolve(u.Symbol)
		if err != nil {
			return nil, newError(CodeNotFound, "attribute type is not registered").withSymbol(u.Symbol).wrap(err)
		}
		if u.Value != nil && u.Value.Kind() != kind {
			return nil, newError(CodeInvalidArgument, "value kind %s does not match declared kind %s", u.Value.Kind(), kind).withSymbol(u.Symbol)
		}

		switch v := u.Value.(type) {
		case ir.Text:
			if !utf8.ValidString(string(v)) {
				return nil, newError(CodeInvalidArgument, "text value is not valid UTF-8").withSymbol(u.Symbol)
			}
		case ir.Bytes:
			u.Value = ir.Bytes(bytes.Clone(v))
		}

		if u.Symbol == ir.SymbolSymbolName && u.Value != nil {
			if _, perr := ir.ParseSymbol(string(u.Value.(ir.Text))); perr != nil {
				return nil, newError(CodeInvalidArgument, "%s", perr.Error()).withSymbol(u.Symbol).wrap(perr)
			}
		}
		out = append(out, u)
	}
	return out, nil
}

// resolveForUpdate finds the target of an update, or allocates an id when
// the creation policy allows it. before is nil for a new entity.
func (s *Store) resolveForUpdate(loc ir.EntityLocator, entries []ir.AttributeToUpdate) (ir.EntityID, *ir.Entity, *Error) {
	switch l := loc.(type) {
	case ir.ByID:
		e := s.latest(ir.EntityID(l))
		if e == nil {
			return 0, nil, newError(CodeNotFound, "entity not found")
		}
		return e.ID, e, nil
	case ir.BySymbol:
		if e := s.latestBySymbol(ir.Symbol(l)); e != nil {
			return e.ID, e, nil
		}
		for _, u := range entries {
			if u.Symbol == ir.SymbolSymbolName && ir.ValuesEqual(u.Value, ir.Text(l)) {
				return s.table.nextID(), nil, nil
			}
		}
		return 0, nil, newError(CodeInvalidArgument,
			"update not idempotent: creating an entity by symbol requires setting @symbolName to %q", string(l))
	default:
		return 0, nil, newError(CodeInvalidArgument, "unsupported entity locator type %T", loc)
	}
}

// checkState validates entries against the target's current state.
func (s *Store) checkState(id ir.EntityID, before *ir.Entity, entries []ir.AttributeToUpdate) *Error {
	isType := before != nil && before.IsAttributeType()
	for _, u := range entries {
		var current ir.AttributeValue
		if before != nil {
			current = before.Attributes[u.Symbol]
		}
		unchanged := ir.ValuesEqual(current, u.Value)

		switch u.Symbol {
		case ir.SymbolValueType:
			if !unchanged {
				return newError(CodeInvalidArgument, "@valueType is immutable; declare attribute types with CreateAttributeType").withSymbol(u.Symbol)
			}
		case ir.SymbolSymbolName:
			if unchanged {
				continue
			}
			if isType {
				return newError(CodeInvalidArgument, "the symbol of an attribute type is immutable").withSymbol(u.Symbol)
			}
			if u.Value == nil {
				continue
			}
			name := ir.Symbol(u.Value.(ir.Text))
			if name.IsReserved() {
				return newError(CodeInvalidArgument, "symbol %q uses the reserved @ prefix", string(name)).withSymbol(u.Symbol)
			}
			if other := s.latestBySymbol(name); other != nil && other.ID != id {
				return newError(CodeAlreadyExists, "symbol %q is already used by entity %d", string(name), other.ID).withSymbol(u.Symbol)
			}
		}

		if ref, ok := u.Value.(ir.EntityRef); ok && !unchanged {
			target := ir.EntityID(ref)
			if target != id && s.latest(target) == nil {
				return newError(CodeInvalidArgument, "referenced entity %d does not exist", target).withSymbol(u.Symbol)
			}
		}
	}
	return nil
}

// DeleteEntity logically removes an entity. Its last state is carried in
// the delete record so watches can report it as Removed. Bootstrap entities
// and attribute types cannot be deleted.
func (s *Store) DeleteEntity(ctx context.Context, loc ir.EntityLocator) (*ir.Entity, error) {
	e, err := s.deleteEntity(ctx, loc)
	if err != nil {
		s.metrics.commitFailed(err)
		s.logger.Debug("delete rejected", "locator", locatorString(loc), "error", err)
		return nil, err
	}
	return e, nil
}

func (s *Store) deleteEntity(ctx context.Context, loc ir.EntityLocator) (*ir.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	loc, lerr := normalizeLocator(loc)
	if lerr != nil {
		return nil, lerr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var before *ir.Entity
	switch l := loc.(type) {
	case ir.ByID:
		before = s.latest(ir.EntityID(l))
	case ir.BySymbol:
		before = s.latestBySymbol(ir.Symbol(l))
	}
	if before == nil {
		return nil, newError(CodeNotFound, "entity not found").withLocator(loc)
	}
	if ir.IsBootstrap(before.ID) {
		return nil, newError(CodeFailedPrecondition, "bootstrap entities cannot be deleted").withLocator(loc)
	}
	if before.IsAttributeType() {
		return nil, newError(CodeFailedPrecondition, "attribute types cannot be deleted").withLocator(loc)
	}

	if _, err := s.commitLocked(ctx, before.ID, ir.OpDelete, before, nil); err != nil {
		return nil, err
	}
	return before, nil
}

// CreateAttributeType declares a new attribute type. The type entity and
// the registry entry are committed in one step.
func (s *Store) CreateAttributeType(ctx context.Context, at ir.AttributeType) (*ir.Entity, error) {
	e, err := s.createAttributeType(ctx, at)
	if err != nil {
		s.metrics.commitFailed(err)
		s.logger.Debug("attribute type rejected", "symbol", string(at.Symbol), "error", err)
		return nil, err
	}
	s.logger.Info("attribute type created", "symbol", string(at.Symbol), "kind", at.ValueKind.String(), "entity", e.ID)
	return e, nil
}

func (s *Store) createAttributeType(ctx context.Context, at ir.AttributeType) (*ir.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sym, perr := ir.ParseSymbol(string(at.Symbol))
	if perr != nil {
		return nil, newError(CodeInvalidArgument, "%s", perr.Error()).wrap(perr)
	}
	at.Symbol = sym
	if sym.IsReserved() {
		return nil, newError(CodeInvalidArgument, "symbol %q uses the reserved @ prefix", string(sym)).withSymbol(sym)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return nil, ErrClosed
	}

	if err := s.types.Check(at); err != nil {
		switch {
		case errors.Is(err, registry.ErrAlreadyExists):
			return nil, newError(CodeAlreadyExists, "attribute type already exists").withSymbol(sym).wrap(err)
		default:
			return nil, newError(CodeInvalidArgument, "%s", err.Error()).withSymbol(sym).wrap(err)
		}
	}
	if other := s.latestBySymbol(sym); other != nil {
		return nil, newError(CodeAlreadyExists, "symbol %q is already used by entity %d", string(sym), other.ID).withSymbol(sym)
	}

	marker, _ := ir.KindMarker(at.ValueKind)
	attrs := ir.Attributes{
		ir.SymbolSymbolName: ir.Text(sym),
		ir.SymbolValueType:  ir.EntityRef(marker),
	}
	rec, err := s.commitLocked(ctx, s.table.nextID(), ir.OpPut, nil, attrs)
	if err != nil {
		return nil, err
	}
	return rec.After, nil
}

func locatorString(l ir.EntityLocator) string {
	if l == nil {
		return "<nil>"
	}
	return l.String()
}
