package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/attrstore/internal/ir"
	"github.com/roach88/attrstore/internal/queryir"
)

func TestLoadScenario_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.yaml")
	content := `
name: test_scenario
description: "Test scenario for validation"
journal: true
steps:
  - op: create_attribute_type
    symbol: name
    kind: text
  - op: watch
    watch: all
    initial: true
  - op: update
    locator: symbol:alice
    create: true
    set:
      name: { text: Alice }
    expect:
      id: 7
assertions:
  - type: watch_converges
    watch: all
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", s.Name)
	assert.True(t, s.Journal)
	require.Len(t, s.Steps, 3)
	assert.Equal(t, OpWatch, s.Steps[1].Op)
	assert.True(t, s.Steps[1].Initial)
	require.NotNil(t, s.Steps[2].Expect)
	require.NotNil(t, s.Steps[2].Expect.ID)
	assert.Equal(t, int64(7), *s.Steps[2].Expect.ID)
	require.Len(t, s.Assertions, 1)
	assert.Equal(t, AssertWatchConverges, s.Assertions[0].Type)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_UnknownField(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: typo
description: "misspelled key"
steps:
  - op: get
    locator: id:0
assertion:
  - type: query_count
    count: 6
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no name", `description: d
steps: [{op: compact}]`, "name is required"},
		{"no description", `name: n
steps: [{op: compact}]`, "description is required"},
		{"no steps", `name: n
description: d`, "steps list is required"},
		{"unknown op", `name: n
description: d
steps: [{op: explode}]`, `unknown op "explode"`},
		{"type without kind", `name: n
description: d
steps: [{op: create_attribute_type, symbol: name}]`, "symbol and kind are required"},
		{"update without locator", `name: n
description: d
steps: [{op: update, set: {name: {text: x}}}]`, "locator is required"},
		{"empty update", `name: n
description: d
steps: [{op: update, locator: "id:6"}]`, "update needs create, set, or clear"},
		{"delete without locator", `name: n
description: d
steps: [{op: delete}]`, "locator is required for delete"},
		{"unnamed watch", `name: n
description: d
steps: [{op: watch}]`, "watch name is required"},
		{"duplicate watch", `name: n
description: d
steps: [{op: watch, watch: w}, {op: watch, watch: w}]`, `watch "w" is already defined`},
		{"close unknown watch", `name: n
description: d
steps: [{op: close_watch, watch: w}]`, `unknown watch "w"`},
		{"assertion without type", `name: n
description: d
steps: [{op: compact}]
assertions: [{count: 1}]`, "type is required"},
		{"unknown assertion", `name: n
description: d
steps: [{op: compact}]
assertions: [{type: vibes}]`, `unknown assertion type "vibes"`},
		{"entity_state without attributes", `name: n
description: d
steps: [{op: compact}]
assertions: [{type: entity_state, locator: "id:0"}]`, "attributes are required"},
		{"query_count without count", `name: n
description: d
steps: [{op: compact}]
assertions: [{type: query_count}]`, "count must be non-negative"},
		{"event_count on unknown watch", `name: n
description: d
steps: [{op: compact}]
assertions: [{type: event_count, watch: w, count: 0}]`, `unknown watch "w"`},
		{"event_count bad event", `name: n
description: d
steps: [{op: watch, watch: w}]
assertions: [{type: event_count, watch: w, event: bookmark, count: 0}]`, `unknown event type "bookmark"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseQuery(t *testing.T) {
	n, err := parseQuery(nil)
	require.NoError(t, err)
	assert.Equal(t, queryir.MatchAll{}, n)

	n, err = parseQuery(map[string]any{
		"hasAttributeTypes": map[string]any{"attributeTypes": []any{"name"}},
	})
	require.NoError(t, err)
	assert.Equal(t, queryir.Has("name"), n)

	_, err = parseQuery(map[string]any{"sometimes": map[string]any{}})
	assert.Error(t, err)
}

func TestStep_UpdateEntries(t *testing.T) {
	st := &Step{
		Create: true,
		Set: map[string]any{
			"parent": map[string]any{"entityRef": 8},
			"name":   map[string]any{"text": "Alice"},
		},
		Clear: []string{"nickname"},
	}
	entries, err := st.updateEntries(ir.BySymbol("alice"))
	require.NoError(t, err)
	assert.Equal(t, []ir.AttributeToUpdate{
		ir.Set(ir.SymbolSymbolName, ir.Text("alice")),
		ir.Set("name", ir.Text("Alice")),
		ir.Set("parent", ir.EntityRef(8)),
		ir.Clear("nickname"),
	}, entries)
}

func TestStep_UpdateEntriesErrors(t *testing.T) {
	tests := []struct {
		name string
		step Step
		loc  ir.EntityLocator
		want string
	}{
		{"create by id", Step{Create: true}, ir.ByID(7), "create needs a symbol locator"},
		{"null value", Step{Set: map[string]any{"name": nil}}, ir.ByID(7), "use clear to remove a value"},
		{"bad tag", Step{Set: map[string]any{"name": map[string]any{"number": 1}}}, ir.ByID(7), `unknown attribute value tag "number"`},
		{"bad symbol", Step{Clear: []string{""}}, ir.ByID(7), "symbol"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.step.updateEntries(tt.loc)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
