package queryir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/attrstore/internal/ir"
)

func jsonUnmarshal(s string, v any) error {
	return json.Unmarshal([]byte(s), v)
}

type bogusNode struct{ Node }

func TestValidate_WellFormed(t *testing.T) {
	for _, n := range []Node{
		MatchAll{},
		MatchNone{},
		And{},
		Or{},
		HasAttributeTypes{},
		AllOf(Has("a"), AnyOf(Has("b"), MatchNone{})),
	} {
		assert.NoError(t, Validate(n))
	}
}

func TestValidate_NilRoot(t *testing.T) {
	err := Validate(nil)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.Contains(t, err.Error(), "root: nil query node")
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	tree := AllOf(
		nil,
		AnyOf(bogusNode{}),
		HasAttributeTypes{AttributeTypes: []ir.Symbol{"ok", ""}},
	)

	err := Validate(tree)
	require.Error(t, err)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Len(t, ve.Problems, 3)
	assert.Contains(t, ve.Problems[0], "root.and[0]: nil query node")
	assert.Contains(t, ve.Problems[1], "root.and[1].or[0]: unsupported query node type")
	assert.Contains(t, ve.Problems[2], "root.and[2].hasAttributeTypes[1]")
}

func TestValidate_PointerVariantsRejected(t *testing.T) {
	err := Validate(&MatchAll{})
	assert.Error(t, err)
}
