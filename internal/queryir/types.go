package queryir

import "github.com/roach88/attrstore/internal/ir"

// Node is one node of an entity query tree.
//
// This is a sealed interface - only types in this package implement it.
type Node interface {
	queryNode() // Marker method - seals interface to this package
}

// MatchAll matches every entity.
type MatchAll struct{}

func (MatchAll) queryNode() {}

// MatchNone matches no entity.
type MatchNone struct{}

func (MatchNone) queryNode() {}

// And matches when every clause matches. An empty And matches everything.
type And struct {
	Clauses []Node
}

func (And) queryNode() {}

// Or matches when any clause matches. An empty Or matches nothing.
type Or struct {
	Clauses []Node
}

func (Or) queryNode() {}

// HasAttributeTypes matches entities on which every listed attribute type is
// set. The virtual @id attribute is set on every entity.
type HasAttributeTypes struct {
	AttributeTypes []ir.Symbol
}

func (HasAttributeTypes) queryNode() {}

// Has is shorthand for HasAttributeTypes over the given symbols.
func Has(symbols ...ir.Symbol) HasAttributeTypes {
	return HasAttributeTypes{AttributeTypes: symbols}
}

// AllOf is shorthand for And.
func AllOf(clauses ...Node) And {
	return And{Clauses: clauses}
}

// AnyOf is shorthand for Or.
func AnyOf(clauses ...Node) Or {
	return Or{Clauses: clauses}
}

// Symbols returns every attribute-type symbol referenced by the tree, in
// depth-first order, duplicates included. Unknown variants are skipped;
// Validate reports them.
func Symbols(n Node) []ir.Symbol {
	var out []ir.Symbol
	walk(n, func(node Node) {
		if h, ok := node.(HasAttributeTypes); ok {
			out = append(out, h.AttributeTypes...)
		}
	})
	return out
}

func walk(n Node, fn func(Node)) {
	if n == nil {
		return
	}
	fn(n)
	switch node := n.(type) {
	case And:
		for _, c := range node.Clauses {
			walk(c, fn)
		}
	case Or:
		for _, c := range node.Clauses {
			walk(c, fn)
		}
	}
}
