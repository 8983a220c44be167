package ir

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// EntityLocator addresses an entity either by id or by symbolic alias.
// This is a sealed interface; only ByID and BySymbol implement it.
type EntityLocator interface {
	entityLocator()
	fmt.Stringer
}

// ByID locates an entity by its id.
type ByID EntityID

func (ByID) entityLocator() {}

func (l ByID) String() string { return "id:" + EntityID(l).String() }

// BySymbol locates an entity by the value of its @symbolName attribute.
type BySymbol Symbol

func (BySymbol) entityLocator() {}

func (l BySymbol) String() string { return "symbol:" + string(l) }

type locatorJSON struct {
	EntityID *EntityID `json:"entityId,omitempty"`
	Symbol   *string   `json:"symbol,omitempty"`
}

// MarshalLocator encodes a locator as {"entityId":n} or {"symbol":"s"}.
func MarshalLocator(l EntityLocator) ([]byte, error) {
	switch loc := l.(type) {
	case ByID:
		id := EntityID(loc)
		return json.Marshal(locatorJSON{EntityID: &id})
	case BySymbol:
		s := string(loc)
		return json.Marshal(locatorJSON{Symbol: &s})
	default:
		return nil, fmt.Errorf("unknown EntityLocator type: %T", l)
	}
}

// UnmarshalLocator decodes the form produced by MarshalLocator.
func UnmarshalLocator(data []byte) (EntityLocator, error) {
	var raw locatorJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("entity locator: %w", err)
	}
	switch {
	case raw.EntityID != nil && raw.Symbol != nil:
		return nil, fmt.Errorf("entity locator must set exactly one of entityId, symbol")
	case raw.EntityID != nil:
		return ByID(*raw.EntityID), nil
	case raw.Symbol != nil:
		sym, err := ParseSymbol(*raw.Symbol)
		if err != nil {
			return nil, err
		}
		return BySymbol(sym), nil
	default:
		return nil, fmt.Errorf("entity locator: missing field")
	}
}

// ParseLocator parses the String form of a locator ("id:7", "symbol:alice").
// As a shorthand, a bare decimal number is an id and any other bare string
// is a symbol.
func ParseLocator(s string) (EntityLocator, error) {
	switch {
	case strings.HasPrefix(s, "id:"):
		id, err := strconv.ParseInt(strings.TrimPrefix(s, "id:"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("entity locator %q: %w", s, err)
		}
		return ByID(id), nil
	case strings.HasPrefix(s, "symbol:"):
		sym, err := ParseSymbol(strings.TrimPrefix(s, "symbol:"))
		if err != nil {
			return nil, err
		}
		return BySymbol(sym), nil
	}
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ByID(id), nil
	}
	sym, err := ParseSymbol(s)
	if err != nil {
		return nil, err
	}
	return BySymbol(sym), nil
}
