package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/attrstore/internal/ir"
)

// TestScenarios_Golden runs every scenario in testdata/scenarios and
// compares its trace with testdata/golden/<name>.golden.
//
// Regenerate with:
//
//	go test ./internal/harness -run TestScenarios_Golden -update
func TestScenarios_Golden(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(strings.TrimSuffix(filepath.Base(path), ".yaml"), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, result.Errors)
		})
	}
}

func TestScenarios_Deterministic(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "row_projection.yaml"))
	require.NoError(t, err)

	var first []byte
	for range 3 {
		res, err := Run(t.Context(), scenario)
		require.NoError(t, err)
		data, err := MarshalTrace(scenario.Name, res.Trace)
		require.NoError(t, err)
		if first == nil {
			first = data
			continue
		}
		assert.Equal(t, string(first), string(data))
	}
}

func TestMarshalTrace(t *testing.T) {
	id := ir.EntityID(7)
	data, err := MarshalTrace("tiny", []TraceEvent{
		{Kind: KindStep, Step: 1, Op: OpCompact, Seq: 6},
		{Kind: KindEvent, Step: 2, Watch: "w", Event: ir.EventRemoved, Seq: 9, EntityID: &id, Row: ir.EntityRow{nil}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"scenario":"tiny"}
{"kind":"step","op":"compact","seq":6,"step":1}
{"entityId":7,"event":"removed","kind":"event","row":{"values":[null]},"seq":9,"step":2,"watch":"w"}
`, string(data))
}
