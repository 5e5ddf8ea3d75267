package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/adrecon/internal/ir"
)

// TestScenarios runs every scenario under testdata/scenarios against its
// golden file. Regenerate with:
//
//	go test ./internal/harness -run TestScenarios -update
func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob("../../testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		scenario, err := LoadScenario(path)
		require.NoError(t, err, path)

		t.Run(scenario.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "%v", result.Errors)
		})
	}
}

func TestMarshalSnapshot(t *testing.T) {
	result := &Result{
		Trace: []TraceEvent{
			{Type: TraceFact, View: "v", Kind: "Unknown", Seq: 1},
			{Type: TraceApplied, View: "v", Rows: 2, Seq: 2},
		},
		State: map[string]ViewState{
			"v": {Rows: []ir.Row{{ID: "r1", Status: "Ready", LastMessage: "ignored"}}, Messages: []string{"ignored"}},
		},
	}

	data, err := MarshalSnapshot("snap", result)
	require.NoError(t, err)
	assert.Equal(t,
		`{"rows":{"v":[{"id":"r1","status":"Ready"}]},"scenario_name":"snap","trace":[{"kind":"Unknown","seq":1,"type":"fact","view":"v"},{"rows":2,"seq":2,"type":"applied","view":"v"}]}`,
		string(data))
}

func TestMarshalSnapshot_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("../../testdata/scenarios/editbudget_unique_ambiguous.yaml")
	require.NoError(t, err)

	var outputs []string
	for range 3 {
		result, err := Run(scenario)
		require.NoError(t, err)
		data, err := MarshalSnapshot(scenario.Name, result)
		require.NoError(t, err)
		outputs = append(outputs, string(data))
	}
	assert.Equal(t, outputs[0], outputs[1])
	assert.Equal(t, outputs[1], outputs[2])
}

func TestMarshalSnapshot_EmptyTrace(t *testing.T) {
	data, err := MarshalSnapshot("empty", NewResult())
	require.NoError(t, err)
	assert.Equal(t, `{"rows":{},"scenario_name":"empty","trace":[]}`, string(data))
}
