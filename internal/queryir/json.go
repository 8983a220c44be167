package queryir

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/attrstore/internal/ir"
)

// MaxDepth bounds the nesting of decoded trees.
const MaxDepth = 64

type clausesJSON struct {
	Clauses []json.RawMessage `json:"clauses"`
}

type hasJSON struct {
	AttributeTypes []string `json:"attributeTypes"`
}

// Marshal encodes a tree in its tagged wire form.
func Marshal(n Node) ([]byte, error) {
	v, err := toWire(n)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func toWire(n Node) (map[string]any, error) {
	switch node := n.(type) {
	case nil:
		return nil, fmt.Errorf("cannot marshal nil query node")
	case MatchAll:
		return map[string]any{"matchAll": struct{}{}}, nil
	case MatchNone:
		return map[string]any{"matchNone": struct{}{}}, nil
	case And:
		clauses, err := clausesToWire(node.Clauses)
		if err != nil {
			return nil, fmt.Errorf("and: %w", err)
		}
		return map[string]any{"and": map[string]any{"clauses": clauses}}, nil
	case Or:
		clauses, err := clausesToWire(node.Clauses)
		if err != nil {
			return nil, fmt.Errorf("or: %w", err)
		}
		return map[string]any{"or": map[string]any{"clauses": clauses}}, nil
	case HasAttributeTypes:
		syms := make([]string, len(node.AttributeTypes))
		for i, s := range node.AttributeTypes {
			syms[i] = string(s)
		}
		return map[string]any{"hasAttributeTypes": hasJSON{AttributeTypes: syms}}, nil
	default:
		return nil, fmt.Errorf("unsupported query node type: %T", n)
	}
}

func clausesToWire(clauses []Node) ([]map[string]any, error) {
	out := make([]map[string]any, len(clauses))
	for i, c := range clauses {
		w, err := toWire(c)
		if err != nil {
			return nil, fmt.Errorf("clause %d: %w", i, err)
		}
		out[i] = w
	}
	return out, nil
}

// Unmarshal decodes a tree from its tagged wire form. Symbols are parsed
// but not resolved; that is the engine's job.
func Unmarshal(data []byte) (Node, error) {
	return unmarshalDepth(data, 0)
}

func unmarshalDepth(data []byte, depth int) (Node, error) {
	if depth > MaxDepth {
		return nil, fmt.Errorf("query tree exceeds maximum depth %d", MaxDepth)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("query node is null")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("query node: %w", err)
	}
	if len(raw) != 1 {
		return nil, fmt.Errorf("query node must have exactly one variant key, got %d", len(raw))
	}

	for tag, body := range raw {
		switch tag {
		case "matchAll":
			return MatchAll{}, nil
		case "matchNone":
			return MatchNone{}, nil
		case "and":
			clauses, err := unmarshalClauses(body, depth)
			if err != nil {
				return nil, fmt.Errorf("and: %w", err)
			}
			return And{Clauses: clauses}, nil
		case "or":
			clauses, err := unmarshalClauses(body, depth)
			if err != nil {
				return nil, fmt.Errorf("or: %w", err)
			}
			return Or{Clauses: clauses}, nil
		case "hasAttributeTypes":
			var h hasJSON
			if err := json.Unmarshal(body, &h); err != nil {
				return nil, fmt.Errorf("hasAttributeTypes: %w", err)
			}
			syms := make([]ir.Symbol, len(h.AttributeTypes))
			for i, s := range h.AttributeTypes {
				sym, err := ir.ParseSymbol(s)
				if err != nil {
					return nil, fmt.Errorf("hasAttributeTypes: %w", err)
				}
				syms[i] = sym
			}
			return HasAttributeTypes{AttributeTypes: syms}, nil
		default:
			return nil, fmt.Errorf("unknown query node variant %q", tag)
		}
	}
	return nil, fmt.Errorf("query node: empty object")
}

func unmarshalClauses(body json.RawMessage, depth int) ([]Node, error) {
	var c clausesJSON
	if err := json.Unmarshal(body, &c); err != nil {
		return nil, err
	}
	out := make([]Node, len(c.Clauses))
	for i, raw := range c.Clauses {
		n, err := unmarshalDepth(raw, depth+1)
		if err != nil {
			return nil, fmt.Errorf("clause %d: %w", i, err)
		}
		out[i] = n
	}
	return out, nil
}

// Wire wraps a Node so it can be embedded in JSON request structs.
type Wire struct {
	Node Node
}

// MarshalJSON implements json.Marshaler.
func (w Wire) MarshalJSON() ([]byte, error) {
	return Marshal(w.Node)
}

// UnmarshalJSON implements json.Unmarshaler.
func (w *Wire) UnmarshalJSON(data []byte) error {
	n, err := Unmarshal(data)
	if err != nil {
		return err
	}
	w.Node = n
	return nil
}
