package engine

import (
	"github.com/roach88/attrstore/internal/ir"
	"github.com/roach88/attrstore/internal/queryir"
	"github.com/roach88/attrstore/internal/registry"
)

// EntityQuery selects entities with Root and, for row operations,
// projects them onto AttributeTypes.
type EntityQuery struct {
	Root           queryir.Node
	AttributeTypes []ir.Symbol
}

// Predicate reports whether an entity matches a compiled query.
type Predicate func(*ir.Entity) bool

// QueryEngine validates and compiles query trees against the registry.
type QueryEngine struct {
	types *registry.Registry
}

// NewQueryEngine creates a query engine bound to a registry.
func NewQueryEngine(types *registry.Registry) *QueryEngine {
	return &QueryEngine{types: types}
}

// Validate checks the tree's structure and that every attribute type it
// names is registered. All failures are CodeInvalidArgument.
func (q *QueryEngine) Validate(n queryir.Node) error {
	if err := queryir.Validate(n); err != nil {
		return newError(CodeInvalidArgument, "%s", err.Error()).wrap(err)
	}
	if err := q.types.ResolveAll(queryir.Symbols(n)); err != nil {
		return newError(CodeInvalidArgument, "query names unknown attribute types").wrap(err)
	}
	return nil
}

// ValidateQuery validates the tree and the row projection. Projection
// symbols must be well-formed; unregistered ones project to nil.
func (q *QueryEngine) ValidateQuery(eq EntityQuery) error {
	if err := q.Validate(eq.Root); err != nil {
		return err
	}
	for _, sym := range eq.AttributeTypes {
		if !sym.Valid() {
			return newError(CodeInvalidArgument, "%q is not a valid symbol name", string(sym))
		}
	}
	return nil
}

// Compile turns a validated tree into a predicate. Compile assumes
// Validate succeeded; an unknown variant matches nothing.
func (q *QueryEngine) Compile(n queryir.Node) Predicate {
	switch node := n.(type) {
	case queryir.MatchAll:
		return func(*ir.Entity) bool { return true }
	case queryir.MatchNone:
		return func(*ir.Entity) bool { return false }
	case queryir.HasAttributeTypes:
		syms := node.AttributeTypes
		return func(e *ir.Entity) bool {
			for _, s := range syms {
				if !e.Has(s) {
					return false
				}
			}
			return true
		}
	case queryir.And:
		preds := q.compileAll(node.Clauses)
		return func(e *ir.Entity) bool {
			for _, p := range preds {
				if !p(e) {
					return false
				}
			}
			return true
		}
	case queryir.Or:
		preds := q.compileAll(node.Clauses)
		return func(e *ir.Entity) bool {
			for _, p := range preds {
				if p(e) {
					return true
				}
			}
			return false
		}
	default:
		return func(*ir.Entity) bool { return false }
	}
}

func (q *QueryEngine) compileAll(nodes []queryir.Node) []Predicate {
	out := make([]Predicate, len(nodes))
	for i, c := range nodes {
		out[i] = q.Compile(c)
	}
	return out
}

// Project returns the values of syms on e, in order. @id projects to the
// entity's own id; unset attributes project to nil.
func Project(e *ir.Entity, syms []ir.Symbol) ir.EntityRow {
	row := make(ir.EntityRow, len(syms))
	for i, s := range syms {
		if v, ok := e.Get(s); ok {
			row[i] = v
		}
	}
	return row
}

// rowsEqual compares two projections element by element.
func rowsEqual(a, b ir.EntityRow) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !ir.ValuesEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}
