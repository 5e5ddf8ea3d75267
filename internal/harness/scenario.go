package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/adrecon/internal/engine"
)

// Scenario defines a reconciliation test scenario: views seeded with rows,
// a flow of pushed payloads, ingested lines and commands, and assertions on
// the resulting trace and final tables.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Profiles is an optional directory of extra .cue profiles, relative to
	// the scenario file. Builtin profiles are always available.
	Profiles string `yaml:"profiles,omitempty"`

	// Views lists the views to run. At least one is required.
	Views []ViewSpec `yaml:"views"`

	// MatchPolicy is all, unique or first. Empty means all.
	MatchPolicy string `yaml:"match_policy,omitempty"`

	// Now is the RFC 3339 wall clock at the start of the run.
	Now string `yaml:"now,omitempty"`

	// Timezone renders line timestamps and notices. Defaults to Asia/Manila.
	Timezone string `yaml:"timezone,omitempty"`

	// Setup imports rows before the flow runs. Setup steps must succeed.
	Setup []SetupStep `yaml:"setup,omitempty"`

	// Flow is executed in order.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// ViewSpec binds a view name to a profile.
type ViewSpec struct {
	Name string `yaml:"name"`

	// Profile defaults to Name.
	Profile string `yaml:"profile,omitempty"`

	// Subject defaults to "7-key".
	Subject string `yaml:"subject,omitempty"`
}

// SetupStep replaces the rows of one view. Rows use the JSON row shape.
type SetupStep struct {
	View string           `yaml:"view"`
	Rows []map[string]any `yaml:"rows"`
}

// FlowStep is one event submitted to a view. Exactly one action is set.
type FlowStep struct {
	View string `yaml:"view"`

	// Push sends the lines as one channel payload {"data":{"message":[...]}}.
	Push []string `yaml:"push,omitempty"`

	// Payload sends a raw channel payload verbatim.
	Payload string `yaml:"payload,omitempty"`

	// Ingest submits lines from an outbound call response.
	Ingest []string `yaml:"ingest,omitempty"`

	// Outcome records the result of an outbound call.
	Outcome *OutcomeStep `yaml:"outcome,omitempty"`

	// Verify applies verification service results.
	Verify []map[string]string `yaml:"verify,omitempty"`

	// Edit sets one field of one row.
	Edit *EditStep `yaml:"edit,omitempty"`

	// Advance moves the wall clock forward before the action runs.
	Advance string `yaml:"advance,omitempty"`

	// ExpectError is the runtime error code the step must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// OutcomeStep mirrors engine.Outcome.
type OutcomeStep struct {
	Keys    []map[string]string `yaml:"keys"`
	Success bool                `yaml:"success"`
	Message string              `yaml:"message,omitempty"`
}

// EditStep mirrors engine.EditField.
type EditStep struct {
	ID    string `yaml:"id"`
	Field string `yaml:"field"`
	Value string `yaml:"value"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// View scopes the assertion. Optional for trace assertions.
	View string `yaml:"view,omitempty"`

	// Where selects a row by field values (row_state).
	Where map[string]string `yaml:"where,omitempty"`

	// Expect lists expected field values (row_state). Verification
	// dimensions are addressed as verification.<dimension> and
	// verification.<dimension>.error.
	Expect map[string]string `yaml:"expect,omitempty"`

	// Event is a trace event type (trace_count).
	Event string `yaml:"event,omitempty"`

	// Kind filters fact events by kind (trace_count).
	Kind string `yaml:"kind,omitempty"`

	// Kinds is the expected order of fact kinds (trace_order).
	Kinds []string `yaml:"kinds,omitempty"`

	// Contains is a substring some message must include (message_contains).
	Contains string `yaml:"contains,omitempty"`

	// Count is the expected number (trace_count, row_count, message_count).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertRowState        = "row_state"
	AssertRowCount        = "row_count"
	AssertMessageContains = "message_contains"
	AssertMessageCount    = "message_count"
	AssertTraceCount      = "trace_count"
	AssertTraceOrder      = "trace_order"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected. A relative Profiles directory is resolved
// against the scenario file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Profiles != "" && !filepath.IsAbs(scenario.Profiles) {
		scenario.Profiles = filepath.Join(filepath.Dir(path), scenario.Profiles)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Views) == 0 {
		return fmt.Errorf("views list is required and must be non-empty")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if s.MatchPolicy != "" {
		if _, err := engine.ParseMatchPolicy(s.MatchPolicy); err != nil {
			return err
		}
	}
	if s.Now != "" {
		if _, err := time.Parse(time.RFC3339, s.Now); err != nil {
			return fmt.Errorf("now: %w", err)
		}
	}

	views := make(map[string]bool, len(s.Views))
	for i, v := range s.Views {
		if v.Name == "" {
			return fmt.Errorf("views[%d]: name is required", i)
		}
		if views[v.Name] {
			return fmt.Errorf("views[%d]: duplicate view %q", i, v.Name)
		}
		views[v.Name] = true
	}

	for i, step := range s.Setup {
		if !views[step.View] {
			return fmt.Errorf("setup[%d]: unknown view %q", i, step.View)
		}
	}

	for i, step := range s.Flow {
		if !views[step.View] {
			return fmt.Errorf("flow[%d]: unknown view %q", i, step.View)
		}
		if n := step.actions(); n != 1 {
			return fmt.Errorf("flow[%d]: exactly one action is required, got %d", i, n)
		}
		if step.Advance != "" {
			if _, err := time.ParseDuration(step.Advance); err != nil {
				return fmt.Errorf("flow[%d]: advance: %w", i, err)
			}
		}
		if step.Edit != nil && (step.Edit.ID == "" || step.Edit.Field == "") {
			return fmt.Errorf("flow[%d].edit: id and field are required", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// actions counts the actions set on a step.
func (s FlowStep) actions() int {
	n := 0
	if len(s.Push) > 0 {
		n++
	}
	if s.Payload != "" {
		n++
	}
	if len(s.Ingest) > 0 {
		n++
	}
	if s.Outcome != nil {
		n++
	}
	if len(s.Verify) > 0 {
		n++
	}
	if s.Edit != nil {
		n++
	}
	return n
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertRowState:
		if a.View == "" || len(a.Where) == 0 || len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: view, where and expect are required for row_state", index)
		}
	case AssertRowCount, AssertMessageCount:
		if a.View == "" {
			return fmt.Errorf("assertions[%d]: view is required for %s", index, a.Type)
		}
	case AssertMessageContains:
		if a.View == "" || a.Contains == "" {
			return fmt.Errorf("assertions[%d]: view and contains are required for message_contains", index)
		}
	case AssertTraceCount:
		switch a.Event {
		case TraceFact, TraceApplied, TraceUnmatched, TraceAmbiguous, TraceRejected:
		default:
			return fmt.Errorf("assertions[%d]: unknown trace event %q", index, a.Event)
		}
	case AssertTraceOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for trace_order", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
