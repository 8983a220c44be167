package queryir

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_WireForm(t *testing.T) {
	tests := []struct {
		name     string
		node     Node
		expected string
	}{
		{"match all", MatchAll{}, `{"matchAll":{}}`},
		{"match none", MatchNone{}, `{"matchNone":{}}`},
		{"empty and", And{}, `{"and":{"clauses":[]}}`},
		{"empty or", Or{}, `{"or":{"clauses":[]}}`},
		{"has", Has("name"), `{"hasAttributeTypes":{"attributeTypes":["name"]}}`},
		{"has empty", HasAttributeTypes{}, `{"hasAttributeTypes":{"attributeTypes":[]}}`},
		{
			"nested",
			AllOf(Has("name"), AnyOf(MatchNone{}, MatchAll{})),
			`{"and":{"clauses":[{"hasAttributeTypes":{"attributeTypes":["name"]}},{"or":{"clauses":[{"matchNone":{}},{"matchAll":{}}]}}]}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Marshal(tt.node)
			require.NoError(t, err)
			assert.JSONEq(t, tt.expected, string(data))

			decoded, err := Unmarshal(data)
			require.NoError(t, err)
			again, err := Marshal(decoded)
			require.NoError(t, err)
			assert.JSONEq(t, tt.expected, string(again))
		})
	}
}

func TestMarshal_Nil(t *testing.T) {
	_, err := Marshal(nil)
	assert.Error(t, err)

	_, err = Marshal(AllOf(nil))
	assert.Error(t, err)
}

func TestUnmarshal_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"null", `null`},
		{"empty", ``},
		{"no variant", `{}`},
		{"two variants", `{"matchAll":{},"matchNone":{}}`},
		{"unknown variant", `{"xor":{}}`},
		{"bad symbol", `{"hasAttributeTypes":{"attributeTypes":["a\"b"]}}`},
		{"null clause", `{"and":{"clauses":[null]}}`},
		{"clauses not list", `{"or":{"clauses":{}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal([]byte(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestUnmarshal_DepthLimit(t *testing.T) {
	deep := strings.Repeat(`{"and":{"clauses":[`, MaxDepth+2) + `{"matchAll":{}}` + strings.Repeat(`]}}`, MaxDepth+2)
	_, err := Unmarshal([]byte(deep))
	assert.ErrorContains(t, err, "maximum depth")
}

func TestWire_EmbedsInStruct(t *testing.T) {
	type request struct {
		Root Wire `json:"root"`
	}

	var req request
	require.NoError(t, jsonUnmarshal(`{"root":{"hasAttributeTypes":{"attributeTypes":["name"]}}}`, &req))
	assert.Equal(t, Has("name"), req.Root.Node)
}
