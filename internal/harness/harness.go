package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata"

	"github.com/roach88/adrecon/internal/engine"
	"github.com/roach88/adrecon/internal/ir"
	"github.com/roach88/adrecon/internal/profile"
	"github.com/roach88/adrecon/internal/store"
	"github.com/roach88/adrecon/internal/testutil"
)

const (
	defaultNow      = "2024-01-01T04:00:00Z"
	defaultTimezone = "Asia/Manila"
	defaultSubject  = "7-key"
	harnessSecret   = "harness-secret"
)

// Harness runs one scenario against a real engine and store.
type Harness struct {
	engine *engine.Engine
	clock  *testutil.WallClock
	tracer *tracer
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh store in a temporary directory, with
// a frozen wall clock and sequential row ids ("row-1", "row-2", ...), so
// repeated runs produce identical traces.
//
// A returned error means the scenario could not be set up. Step and
// assertion failures are reported on the result.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	dir, err := os.MkdirTemp("", "adrecon-harness-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "harness.db"), []byte(harnessSecret))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	result := NewResult()
	h, err := newHarness(ctx, scenario, st, result)
	if err != nil {
		return nil, err
	}

	if err := h.executeSetup(ctx, scenario.Setup); err != nil {
		return nil, err
	}
	h.executeFlow(ctx, scenario.Flow, result)

	for _, name := range h.engine.Views() {
		table, err := h.engine.Table(name)
		if err != nil {
			return nil, err
		}
		result.State[name] = ViewState{Rows: table.Get(), Messages: table.Messages()}
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(ctx context.Context, scenario *Scenario, st *store.Store, result *Result) (*Harness, error) {
	set, err := profile.Load(scenario.Profiles)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}

	views := make([]engine.ViewConfig, 0, len(scenario.Views))
	for _, v := range scenario.Views {
		name := v.Profile
		if name == "" {
			name = v.Name
		}
		p, ok := set.Get(name)
		if !ok {
			return nil, fmt.Errorf("view %s: unknown profile %q", v.Name, name)
		}
		subject := v.Subject
		if subject == "" {
			subject = defaultSubject
		}
		views = append(views, engine.ViewConfig{Name: v.Name, Subject: subject, Profile: p})
	}

	policy, err := engine.ParseMatchPolicy(scenario.MatchPolicy)
	if err != nil {
		return nil, err
	}

	tz := scenario.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}

	now := scenario.Now
	if now == "" {
		now = defaultNow
	}
	start, err := time.Parse(time.RFC3339, now)
	if err != nil {
		return nil, fmt.Errorf("now: %w", err)
	}

	h := &Harness{
		clock:  testutil.NewWallClock(start),
		tracer: &tracer{result: result},
	}
	h.engine, err = engine.New(ctx, st, views,
		engine.WithMatchPolicy(policy),
		engine.WithLocation(loc),
		engine.WithNow(h.clock.Now),
		engine.WithIDGenerator(testutil.SequentialIDs("row")),
		engine.WithObserver(h.tracer),
	)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	return h, nil
}

// executeSetup imports setup rows. Any failure aborts the run.
func (h *Harness) executeSetup(ctx context.Context, setup []SetupStep) error {
	for i, step := range setup {
		var rows []ir.Row
		if err := convert(step.Rows, &rows); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		ev := engine.Event{Type: engine.EventTypeCommand, View: step.View, Command: engine.ReplaceRows{Rows: rows}}
		if err := h.engine.Handle(ctx, ev); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
	}
	return nil
}

// executeFlow runs each step in order and records unexpected outcomes.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) {
	for i, step := range flow {
		if step.Advance != "" {
			d, _ := time.ParseDuration(step.Advance)
			h.clock.Advance(d)
		}

		ev, err := h.event(step)
		if err != nil {
			result.AddError(fmt.Sprintf("flow[%d]: %v", i, err))
			continue
		}
		err = h.engine.Handle(ctx, ev)

		switch {
		case step.ExpectError == "" && err != nil:
			result.AddError(fmt.Sprintf("flow[%d]: unexpected error: %v", i, err))
		case step.ExpectError != "" && err == nil:
			result.AddError(fmt.Sprintf("flow[%d]: expected error %s, got none", i, step.ExpectError))
		case step.ExpectError != "":
			var re *engine.RuntimeError
			if !errors.As(err, &re) || string(re.Code) != step.ExpectError {
				result.AddError(fmt.Sprintf("flow[%d]: expected error %s, got %v", i, step.ExpectError, err))
			}
		}
	}
}

// event builds the engine event for a flow step.
func (h *Harness) event(step FlowStep) (engine.Event, error) {
	ev := engine.Event{View: step.View}

	switch {
	case len(step.Push) > 0:
		data, err := json.Marshal(map[string]any{"data": map[string]any{"message": step.Push}})
		if err != nil {
			return ev, err
		}
		ev.Type = engine.EventTypeRaw
		ev.Raw = &ir.RawEvent{Payload: string(data)}

	case step.Payload != "":
		ev.Type = engine.EventTypeRaw
		ev.Raw = &ir.RawEvent{Payload: step.Payload}

	case len(step.Ingest) > 0:
		ev.Type = engine.EventTypeIngest
		ev.Lines = step.Ingest

	case step.Outcome != nil:
		ev.Type = engine.EventTypeCommand
		ev.Command = engine.RecordOutcome{Outcome: engine.Outcome{
			Keys:    step.Outcome.Keys,
			Success: step.Outcome.Success,
			Message: step.Outcome.Message,
		}}

	case len(step.Verify) > 0:
		var results []engine.VerificationResult
		if err := convert(step.Verify, &results); err != nil {
			return ev, fmt.Errorf("verify: %w", err)
		}
		ev.Type = engine.EventTypeCommand
		ev.Command = engine.VerifyRows{Results: results}

	case step.Edit != nil:
		ev.Type = engine.EventTypeCommand
		ev.Command = engine.EditField{ID: step.Edit.ID, Field: step.Edit.Field, Value: step.Edit.Value}

	default:
		return ev, fmt.Errorf("step has no action")
	}
	return ev, nil
}

// convert maps YAML-decoded values onto JSON-tagged types.
func convert(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
