package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"int", 42, "42"},
		{"negative int", -100, "-100"},
		{"max int64", int64(9223372036854775807), "9223372036854775807"},
		{"bool", true, "true"},
		{"null", nil, "null"},
		{"empty array", []any{}, "[]"},
		{"empty object", map[string]any{}, "{}"},
		{"nested", map[string]any{"z": map[string]any{"b": 1, "a": 2}, "a": 3}, `{"a":3,"z":{"a":2,"b":1}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalRejectsFloats(t *testing.T) {
	_, err := MarshalCanonical(map[string]any{"x": 1.5})
	assert.Error(t, err)
}

func TestMarshalCanonicalUTF16Ordering(t *testing.T) {
	// U+E000 sorts before U+10000 in UTF-8 but after it in UTF-16,
	// where U+10000 is the surrogate pair 0xD800 0xDC00.
	obj := map[string]any{
		"\uE000":     1,
		"\U00010000": 2,
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U00010000\":2,\"\uE000\":1}", string(result))
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	result, err := MarshalCanonical(map[string]any{"k": "<a&b>"})
	require.NoError(t, err)
	assert.Equal(t, `{"k":"<a&b>"}`, string(result))
}

func TestMarshalCanonicalLineSeparators(t *testing.T) {
	result, err := MarshalCanonical("a\u2028b\u2029c")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\u2029c\"", string(result))

	// A literal backslash followed by u2028 stays escaped.
	result, err = MarshalCanonical(`a\u2028`)
	require.NoError(t, err)
	assert.Equal(t, `"a\\u2028"`, string(result))
}

func TestMarshalCanonicalKeysNFC(t *testing.T) {
	result, err := MarshalCanonical(map[string]any{"cafe\u0301": 1})
	require.NoError(t, err)
	assert.Equal(t, "{\"caf\u00e9\":1}", string(result))
}

func TestMarshalCanonicalKeepsValueBytes(t *testing.T) {
	e := Entity{ID: 1, Version: 2, Attributes: Attributes{"name": Text("cafe\u0301")}}
	result, err := MarshalCanonical(e)
	require.NoError(t, err)
	assert.Equal(t, "{\"attributes\":{\"name\":{\"text\":\"cafe\u0301\"}},\"entityId\":1,\"entityVersion\":2}", string(result))
}

func TestMarshalCanonicalDeterministic(t *testing.T) {
	rec := MutationRecord{
		Seq:      8,
		EntityID: 6,
		Op:       OpPut,
		After: &Entity{ID: 6, Version: 8, Attributes: Attributes{
			"b": Text("2"), "a": Text("1"), "c": EntityRef(0),
		}},
	}

	first, err := MarshalCanonical(rec)
	require.NoError(t, err)
	for range 20 {
		again, err := MarshalCanonical(rec)
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
	assert.Equal(t,
		`{"after":{"attributes":{"a":{"text":"1"},"b":{"text":"2"},"c":{"entityRef":0}},"entityId":6,"entityVersion":8},"entityId":6,"op":"put","seq":8}`,
		string(first))
}
