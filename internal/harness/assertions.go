package harness

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/adrecon/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			switch ev.Type {
			case TraceFact:
				fmt.Fprintf(&buf, "  [%d] %s fact %s\n", ev.Seq, ev.View, ev.Kind)
			case TraceApplied:
				fmt.Fprintf(&buf, "  [%d] %s applied to %d row(s)\n", ev.Seq, ev.View, ev.Rows)
			default:
				fmt.Fprintf(&buf, "  [%d] %s %s\n", ev.Seq, ev.View, ev.Type)
			}
		}
	}
	return buf.String()
}

// assertRowState finds the single row matching Where and compares the
// Expect fields.
func assertRowState(state map[string]ViewState, a Assertion) error {
	vs, ok := state[a.View]
	if !ok {
		return fmt.Errorf("row_state: unknown view %q", a.View)
	}

	var found []ir.Row
	for _, r := range vs.Rows {
		if rowMatches(r, a.Where) {
			found = append(found, r)
		}
	}
	if len(found) != 1 {
		return &AssertionError{
			Type:     AssertRowState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", a.View, formatFields(a.Where)),
			Actual:   fmt.Sprintf("%d rows", len(found)),
		}
	}

	row := found[0]
	var diffs []string
	for _, field := range slices.Sorted(maps.Keys(a.Expect)) {
		want := a.Expect[field]
		got, _ := rowValue(row, field)
		if got != want {
			diffs = append(diffs, fmt.Sprintf("%s=%q (want %q)", field, got, want))
		}
	}
	if len(diffs) > 0 {
		return &AssertionError{
			Type:     AssertRowState,
			Expected: formatFields(a.Expect),
			Actual:   fmt.Sprintf("row %s: %s", row.ID, strings.Join(diffs, ", ")),
		}
	}
	return nil
}

func rowMatches(r ir.Row, where map[string]string) bool {
	for field, want := range where {
		if got, _ := rowValue(r, field); got != want {
			return false
		}
	}
	return true
}

// rowValue resolves a field name, including verification.<dimension> and
// verification.<dimension>.error.
func rowValue(r ir.Row, field string) (string, bool) {
	rest, ok := strings.CutPrefix(field, "verification.")
	if !ok {
		return r.Field(field)
	}
	dim, attr, _ := strings.Cut(rest, ".")
	ds := r.Verification.Get(ir.Dimension(dim))
	if ds == nil {
		return "", false
	}
	switch attr {
	case "":
		if ds.State == "" {
			return string(ir.Unverified), true
		}
		return string(ds.State), true
	case "error":
		return ds.Error, ds.Error != ""
	}
	return "", false
}

func assertRowCount(state map[string]ViewState, a Assertion) error {
	n := len(state[a.View].Rows)
	if n != a.Count {
		return &AssertionError{
			Type:     AssertRowCount,
			Expected: fmt.Sprintf("%d rows in %s", a.Count, a.View),
			Actual:   fmt.Sprintf("%d rows", n),
		}
	}
	return nil
}

func assertMessageContains(state map[string]ViewState, a Assertion) error {
	msgs := state[a.View].Messages
	for _, m := range msgs {
		if strings.Contains(m, a.Contains) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertMessageContains,
		Expected: fmt.Sprintf("a message in %s containing %q", a.View, a.Contains),
		Actual:   fmt.Sprintf("%d messages: %q", len(msgs), msgs),
	}
}

func assertMessageCount(state map[string]ViewState, a Assertion) error {
	n := len(state[a.View].Messages)
	if n != a.Count {
		return &AssertionError{
			Type:     AssertMessageCount,
			Expected: fmt.Sprintf("%d messages in %s", a.Count, a.View),
			Actual:   fmt.Sprintf("%d messages", n),
		}
	}
	return nil
}

// assertTraceCount counts trace events of one type, optionally filtered by
// view and fact kind.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Type != a.Event {
			continue
		}
		if a.View != "" && ev.View != a.View {
			continue
		}
		if a.Kind != "" && ev.Kind != a.Kind {
			continue
		}
		count++
	}

	if count != a.Count {
		what := a.Event
		if a.Kind != "" {
			what += " " + a.Kind
		}
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, what),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertTraceOrder checks that fact kinds appear in the given order.
// Other events may come in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, ev := range trace {
		if next == len(a.Kinds) {
			break
		}
		if ev.Type != TraceFact || (a.View != "" && ev.View != a.View) {
			continue
		}
		if ev.Kind == a.Kinds[next] {
			next++
		}
	}

	if next < len(a.Kinds) {
		return &AssertionError{
			Type:     AssertTraceOrder,
			Expected: fmt.Sprintf("fact kinds in order: %v", a.Kinds),
			Actual:   fmt.Sprintf("missing %s after position %d", a.Kinds[next], next),
			Trace:    trace,
		}
	}
	return nil
}

func formatFields(m map[string]string) string {
	parts := make([]string, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		parts = append(parts, fmt.Sprintf("%s=%q", k, m[k]))
	}
	return strings.Join(parts, ", ")
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertRowState:
			err = assertRowState(result.State, a)
		case AssertRowCount:
			err = assertRowCount(result.State, a)
		case AssertMessageContains:
			err = assertMessageContains(result.State, a)
		case AssertMessageCount:
			err = assertMessageCount(result.State, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}
