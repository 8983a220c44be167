// Package queryir provides the entity query tree evaluated by the query
// engine and compiled to SQL by querysql.
//
// ARCHITECTURE:
//
//	[JSON / YAML / CLI flag] → [queryir.Node] → [engine predicate]
//	                                          → [querysql WHERE clause]
//
// SEALED INTERFACE:
//
// Node is sealed using the marker method pattern. Only the five variants in
// this package implement it, so every consumer can dispatch with an
// exhaustive type switch:
//
//	switch n := node.(type) {
//	case MatchAll:
//	case MatchNone:
//	case And:
//	case Or:
//	case HasAttributeTypes:
//	}
//
// SEMANTICS:
//
//	MatchAll               always true
//	MatchNone              always false
//	And{Clauses}           every clause true; empty is true
//	Or{Clauses}            any clause true; empty is false
//	HasAttributeTypes{S}   every symbol in S set on the entity; empty is true
//
// Trees are values. Evaluation never mutates a node, and equality is
// structural.
//
// WIRE FORM:
//
// Each node is a single-key JSON object naming its variant:
//
//	{"matchAll":{}}
//	{"and":{"clauses":[{"hasAttributeTypes":{"attributeTypes":["name"]}}]}}
package queryir
