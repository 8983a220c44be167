package ir

import (
	"fmt"
	"regexp"
)

// Symbol names an attribute type or a symbolic entity alias.
//
// A valid symbol is 1..60 printable ASCII characters (0x20-0x7E) and
// contains neither a backslash nor a double quote. Use ParseSymbol to construct one from
// untrusted input; the zero value is invalid.
type Symbol string

// MaxSymbolLength is the maximum number of characters in a symbol.
const MaxSymbolLength = 60

var symbolPattern = regexp.MustCompile(`^[ !#-\[\]-~]{1,60}$`)

// InvalidSymbolError reports a string that is not a valid symbol name.
type InvalidSymbolError struct {
	Name string
}

func (e *InvalidSymbolError) Error() string {
	return fmt.Sprintf("name %q is not a valid symbol name", e.Name)
}

// ParseSymbol validates s and returns it as a Symbol.
func ParseSymbol(s string) (Symbol, error) {
	if !symbolPattern.MatchString(s) {
		return "", &InvalidSymbolError{Name: s}
	}
	return Symbol(s), nil
}

// MustSymbol is like ParseSymbol but panics on invalid input.
// Intended for constants and tests.
func MustSymbol(s string) Symbol {
	sym, err := ParseSymbol(s)
	if err != nil {
		panic(err)
	}
	return sym
}

// Valid reports whether the symbol satisfies the naming rules.
func (s Symbol) Valid() bool {
	return symbolPattern.MatchString(string(s))
}

// String returns the symbol text.
func (s Symbol) String() string {
	return string(s)
}

// Bootstrap symbols. Every store starts with one entity per symbol below,
// committed in this order.
const (
	SymbolEntityID       Symbol = "@id"
	SymbolSymbolName     Symbol = "@symbolName"
	SymbolValueType      Symbol = "@valueType"
	SymbolValueTypeText  Symbol = "@valueType/text"
	SymbolValueTypeRef   Symbol = "@valueType/entityRef"
	SymbolValueTypeBytes Symbol = "@valueType/bytes"
)

// IsReserved reports whether the symbol uses the reserved "@" prefix.
// Reserved symbols cannot be registered by clients.
func (s Symbol) IsReserved() bool {
	return len(s) > 0 && s[0] == '@'
}
