package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/adrecon/internal/ir"
)

// Snapshot is the golden-file view of a run: the trace plus the final id
// and status of every row.
type Snapshot struct {
	ScenarioName string
	Trace        []TraceEvent
	State        map[string]ViewState
}

// toCanonicalMap converts the snapshot to the value shapes
// ir.MarshalCanonical accepts.
func (s *Snapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"type": ev.Type,
			"view": ev.View,
			"seq":  ev.Seq,
		}
		if ev.Kind != "" {
			m["kind"] = ev.Kind
		}
		if ev.Rows != 0 {
			m["rows"] = ev.Rows
		}
		trace[i] = m
	}

	rows := make(map[string]any, len(s.State))
	for view, vs := range s.State {
		list := make([]any, len(vs.Rows))
		for i, r := range vs.Rows {
			list[i] = map[string]any{"id": r.ID, "status": r.Status}
		}
		rows[view] = list
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         trace,
		"rows":          rows,
	}
}

// MarshalSnapshot renders a result as canonical JSON.
func MarshalSnapshot(name string, result *Result) ([]byte, error) {
	snap := Snapshot{ScenarioName: name, Trace: result.Trace, State: result.State}
	return ir.MarshalCanonical(snap.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can inspect assertion failures.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(name, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
