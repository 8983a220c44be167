package ir

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSymbol_Valid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"simple", "name"},
		{"with spaces", "display name"},
		{"reserved prefix", "@symbolName"},
		{"path like", "@valueType/entityRef"},
		{"single char", "x"},
		{"max length", strings.Repeat("a", MaxSymbolLength)},
		{"punctuation", "a-b_c.d:e/f#g"},
		{"tilde and brackets", "~[x]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sym, err := ParseSymbol(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.input, sym.String())
			assert.True(t, sym.Valid())
		})
	}
}

func TestParseSymbol_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"too long", strings.Repeat("a", MaxSymbolLength+1)},
		{"backslash", `a\b`},
		{"double quote", `a"b`},
		{"newline", "a\nb"},
		{"tab", "a\tb"},
		{"nul", "a\x00b"},
		{"delete", "a\x7fb"},
		{"latin", "größe"},
		{"cjk", "名前"},
		{"combining mark", "cafe\u0301"},
		{"emoji", "tag🙂"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSymbol(tt.input)
			require.Error(t, err)
			var ise *InvalidSymbolError
			require.ErrorAs(t, err, &ise)
			assert.Equal(t, tt.input, ise.Name)
		})
	}
}

func TestParseSymbol_NoNormalization(t *testing.T) {
	// Symbols are ASCII only, so the parsed symbol is always the input.
	sym, err := ParseSymbol("caf e")
	require.NoError(t, err)
	assert.Equal(t, Symbol("caf e"), sym)

	assert.False(t, Symbol("caf\u00e9").Valid())
}

func TestMustSymbol_Panics(t *testing.T) {
	assert.Panics(t, func() { MustSymbol("") })
	assert.NotPanics(t, func() { MustSymbol("ok") })
}

func TestSymbol_IsReserved(t *testing.T) {
	assert.True(t, SymbolSymbolName.IsReserved())
	assert.True(t, SymbolEntityID.IsReserved())
	assert.False(t, Symbol("name").IsReserved())
	assert.False(t, Symbol("").IsReserved())
}
