package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/attrstore/internal/ir"
)

func mustParse(t *testing.T, src string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(src))
	require.NoError(t, err)
	return s
}

func run(t *testing.T, src string) *Result {
	t.Helper()
	res, err := Run(context.Background(), mustParse(t, src))
	require.NoError(t, err)
	return res
}

func steps(trace []TraceEvent) []TraceEvent {
	var out []TraceEvent
	for _, ev := range trace {
		if ev.Kind == KindStep {
			out = append(out, ev)
		}
	}
	return out
}

func TestRun_StepEntries(t *testing.T) {
	res := run(t, `
name: entries
description: "one entry per step"
steps:
  - op: create_attribute_type
    symbol: name
    kind: text
  - op: get
    locator: symbol:name
  - op: query
    query: { hasAttributeTypes: { attributeTypes: ["@valueType"] } }
`)
	require.True(t, res.Pass, res.Errors)
	assert.Equal(t, ir.Seq(7), res.Head)
	require.Len(t, res.Trace, 3)

	assert.Equal(t, KindStep, res.Trace[0].Kind)
	assert.Equal(t, 1, res.Trace[0].Step)
	require.NotNil(t, res.Trace[0].Entity)
	assert.Equal(t, ir.EntityID(6), res.Trace[0].Entity.ID)

	assert.Equal(t, ir.Version(7), res.Trace[1].Entity.Version)

	query := res.Trace[2]
	require.NotNil(t, query.Count)
	assert.Equal(t, 4, *query.Count)
	assert.Equal(t, []ir.EntityID{0, 1, 2, 6}, query.IDs)
	assert.Nil(t, query.Entity)
}

func TestRun_FailedExpectations(t *testing.T) {
	res := run(t, `
name: failing
description: "expectations that do not hold"
steps:
  - op: create_attribute_type
    symbol: name
    kind: text
    expect:
      id: 99
  - op: get
    locator: symbol:nobody
  - op: get
    locator: symbol:name
    expect:
      error: NOT_FOUND
  - op: create_attribute_type
    symbol: name
    kind: text
    expect:
      error: INVALID_ARGUMENT
  - op: query
    expect:
      count: 1
  - op: get
    locator: symbol:name
    expect:
      attributes:
        "@symbolName": { text: other }
`)
	assert.False(t, res.Pass)
	assert.Equal(t, []string{
		"step 1 (create_attribute_type): expected entity 99, got 6",
		"step 2 (get): unexpected error NOT_FOUND",
		"step 3 (get): expected error NOT_FOUND, got success",
		"step 4 (create_attribute_type): expected error INVALID_ARGUMENT, got ALREADY_EXISTS",
		"step 5 (query): expected 1 results, got 7",
		`step 6 (get): attributes: expected @symbolName = {"text":"other"}, got {"text":"name"}`,
	}, res.Errors)
	assert.Len(t, steps(res.Trace), 6, "failed steps are still traced")
}

func TestRun_WatchesInOpenOrder(t *testing.T) {
	res := run(t, `
name: two_watches
description: "events are grouped per watch in open order"
steps:
  - op: create_attribute_type
    symbol: name
    kind: text
  - op: watch
    watch: second_opened_first
    query: { hasAttributeTypes: { attributeTypes: [name] } }
  - op: watch
    watch: rows
    query: { hasAttributeTypes: { attributeTypes: [name] } }
    attribute_types: [name]
  - op: update
    locator: symbol:alice
    create: true
    set:
      name: { text: Alice }
`)
	require.True(t, res.Pass, res.Errors)
	require.Len(t, res.Trace, 6)

	last := res.Trace[3:]
	assert.Equal(t, KindStep, last[0].Kind)
	assert.Equal(t, OpUpdate, last[0].Op)

	assert.Equal(t, "second_opened_first", last[1].Watch)
	assert.Equal(t, ir.EventAdded, last[1].Event)
	require.NotNil(t, last[1].Entity)
	assert.Equal(t, ir.EntityID(7), last[1].Entity.ID)

	assert.Equal(t, "rows", last[2].Watch)
	require.NotNil(t, last[2].EntityID)
	assert.Equal(t, ir.EntityID(7), *last[2].EntityID)
	assert.Equal(t, ir.EntityRow{ir.Text("Alice")}, last[2].Row)
	for _, ev := range last[1:] {
		assert.Equal(t, 4, ev.Step)
		assert.Equal(t, ir.Seq(8), ev.Seq)
	}
}

func TestRun_WatchStepReportsStartSeq(t *testing.T) {
	res := run(t, `
name: start_seq
description: "a watch step is traced at S0 with its initial events after it"
steps:
  - op: watch
    watch: all
    query: { hasAttributeTypes: { attributeTypes: ["@valueType"] } }
    initial: true
`)
	require.True(t, res.Pass, res.Errors)
	require.Len(t, res.Trace, 4)
	assert.Equal(t, KindStep, res.Trace[0].Kind)
	assert.Equal(t, ir.Seq(6), res.Trace[0].Seq)
	for i, ev := range res.Trace[1:] {
		assert.Equal(t, ir.EventAdded, ev.Event)
		assert.Equal(t, ir.Seq(6), ev.Seq, "initial events carry S0")
		assert.Equal(t, ir.EntityID(i), ev.Entity.ID)
	}
}

func TestRun_CloseWatch(t *testing.T) {
	res := run(t, `
name: close_watch
description: "a closed watch receives nothing"
steps:
  - op: create_attribute_type
    symbol: name
    kind: text
  - op: watch
    watch: w
  - op: update
    locator: symbol:alice
    create: true
    set:
      name: { text: Alice }
  - op: close_watch
    watch: w
  - op: update
    locator: symbol:alice
    set:
      name: { text: Alicia }
assertions:
  - type: event_count
    watch: w
    count: 1
`)
	require.True(t, res.Pass, res.Errors)
	assert.Len(t, res.Events("w"), 1)
}

func TestRun_JournalReplay(t *testing.T) {
	res := run(t, `
name: replay
description: "the journal reproduces the live state"
journal: true
steps:
  - op: create_attribute_type
    symbol: name
    kind: text
  - op: update
    locator: symbol:alice
    create: true
    set:
      name: { text: Alice }
  - op: update
    locator: symbol:bob
    create: true
    set:
      name: { text: Bob }
  - op: delete
    locator: symbol:alice
  - op: compact
`)
	assert.True(t, res.Pass, res.Errors)
	assert.Equal(t, ir.Seq(10), res.Head)
}

func TestRun_MalformedStepAborts(t *testing.T) {
	s := mustParse(t, `
name: malformed
description: "a locator that does not parse"
steps:
  - op: get
    locator: "symbol:"
`)
	_, err := Run(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 1 (get)")
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, mustParse(t, `
name: cancelled
description: "no store without a live context"
steps:
  - op: compact
`))
	assert.Error(t, err)
}
