package ir

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
)

// EntityID identifies an entity. IDs are assigned densely by the store,
// starting at 0 for the first bootstrap entity, and are never reused.
type EntityID int64

// String returns the decimal form of the id.
func (id EntityID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Version is the global sequence of the commit that produced an entity
// snapshot. It strictly increases for a given entity.
type Version int64

// Attributes maps attribute-type symbols to values. A missing key means the
// attribute is not set.
type Attributes map[Symbol]AttributeValue

// Clone returns a shallow copy. Values are immutable so sharing is safe.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return Attributes{}
	}
	return maps.Clone(a)
}

// Equal reports whether both maps hold the same keys with equal values.
func (a Attributes) Equal(b Attributes) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !ValuesEqual(av, bv) {
			return false
		}
	}
	return true
}

// SortedSymbols returns the attribute keys in byte order.
func (a Attributes) SortedSymbols() []Symbol {
	keys := slices.Collect(maps.Keys(a))
	slices.Sort(keys)
	return keys
}

// MarshalJSON encodes attributes as an object of tagged values.
func (a Attributes) MarshalJSON() ([]byte, error) {
	raw := make(map[string]json.RawMessage, len(a))
	for k, v := range a {
		b, err := MarshalAttributeValue(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		raw[string(k)] = b
	}
	return json.Marshal(raw)
}

// UnmarshalJSON decodes an object of tagged values. Null entries are
// rejected; absence is expressed by omitting the key.
func (a *Attributes) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Attributes, len(raw))
	for k, body := range raw {
		sym, err := ParseSymbol(k)
		if err != nil {
			return err
		}
		v, err := UnmarshalAttributeValue(body)
		if err != nil {
			return fmt.Errorf("attribute %q: %w", k, err)
		}
		if v == nil {
			return fmt.Errorf("attribute %q: null is not a stored value", k)
		}
		out[sym] = v
	}
	*a = out
	return nil
}

// Entity is an immutable snapshot of an identified record.
type Entity struct {
	ID         EntityID   `json:"entityId"`
	Version    Version    `json:"entityVersion"`
	Attributes Attributes `json:"attributes"`
}

// Get returns the value of sym. The virtual @id attribute yields the id.
func (e *Entity) Get(sym Symbol) (AttributeValue, bool) {
	if sym == SymbolEntityID {
		return EntityRef(e.ID), true
	}
	v, ok := e.Attributes[sym]
	return v, ok
}

// Has reports whether sym is set on the entity. @id is always set.
func (e *Entity) Has(sym Symbol) bool {
	_, ok := e.Get(sym)
	return ok
}

// SymbolName returns the @symbolName alias if the entity has one.
func (e *Entity) SymbolName() (Symbol, bool) {
	v, ok := e.Attributes[SymbolSymbolName].(Text)
	if !ok {
		return "", false
	}
	return Symbol(v), true
}

// IsAttributeType reports whether the entity declares an attribute type.
func (e *Entity) IsAttributeType() bool {
	_, ok := e.Attributes[SymbolValueType]
	return ok
}

// EntityRow is a projection of an entity onto an ordered list of
// attribute-type symbols. A nil element means the attribute is not set.
type EntityRow []AttributeValue

// MarshalJSON encodes the row as {"values":[...]} with null for absent
// positions.
func (r EntityRow) MarshalJSON() ([]byte, error) {
	values := make([]json.RawMessage, len(r))
	for i, v := range r {
		b, err := MarshalAttributeValue(v)
		if err != nil {
			return nil, fmt.Errorf("row[%d]: %w", i, err)
		}
		values[i] = b
	}
	return json.Marshal(struct {
		Values []json.RawMessage `json:"values"`
	}{Values: values})
}

// UnmarshalJSON decodes the form produced by MarshalJSON.
func (r *EntityRow) UnmarshalJSON(data []byte) error {
	var raw struct {
		Values []json.RawMessage `json:"values"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(EntityRow, len(raw.Values))
	for i, body := range raw.Values {
		v, err := UnmarshalAttributeValue(body)
		if err != nil {
			return fmt.Errorf("row[%d]: %w", i, err)
		}
		out[i] = v
	}
	*r = out
	return nil
}

// AttributeType is a registered (symbol, kind) pair.
type AttributeType struct {
	Symbol    Symbol    `json:"symbol"`
	ValueKind ValueKind `json:"valueType"`
}

// AttributeToUpdate is one entry of an update request. A nil Value clears
// the attribute.
type AttributeToUpdate struct {
	Symbol Symbol
	Value  AttributeValue
}

type attributeToUpdateJSON struct {
	AttributeType Symbol          `json:"attributeType"`
	Value         json.RawMessage `json:"attributeValue"`
}

// MarshalJSON encodes the entry with a nullable value.
func (u AttributeToUpdate) MarshalJSON() ([]byte, error) {
	v, err := MarshalAttributeValue(u.Value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(attributeToUpdateJSON{AttributeType: u.Symbol, Value: v})
}

// UnmarshalJSON decodes the entry. A missing or null value means "clear".
func (u *AttributeToUpdate) UnmarshalJSON(data []byte) error {
	var raw attributeToUpdateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	sym, err := ParseSymbol(string(raw.AttributeType))
	if err != nil {
		return err
	}
	var v AttributeValue
	if len(raw.Value) > 0 {
		v, err = UnmarshalAttributeValue(raw.Value)
		if err != nil {
			return err
		}
	}
	u.Symbol = sym
	u.Value = v
	return nil
}

// Set returns an entry that sets sym to v.
func Set(sym Symbol, v AttributeValue) AttributeToUpdate {
	return AttributeToUpdate{Symbol: sym, Value: v}
}

// Clear returns an entry that removes sym.
func Clear(sym Symbol) AttributeToUpdate {
	return AttributeToUpdate{Symbol: sym}
}
