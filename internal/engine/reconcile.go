package engine

import (
	"maps"
	"slices"
	"strings"

	"github.com/roach88/adrecon/internal/ir"
	"github.com/roach88/adrecon/internal/profile"
)

// mismatchLabels names mismatch fields in a composed summary.
var mismatchLabels = map[string]string{
	"page_name":     "Page",
	"item_name":     "Item",
	"campaign_code": "Code",
}

// Reconcile returns a new row collection with f applied to the rows named
// by ids. rows is never modified; unmatched rows are shared with the result.
//
// Matched rows get the rendered status (when the fact carries one), the
// rendered set fields, the fact trace as last message and, for
// verification facts, the new state of the named dimension. Applying the same fact twice gives the same result.
func Reconcile(f ir.Fact, ids []string, rows []ir.Row) []ir.Row {
	out, _ := reconcile(f, ids, rows)
	return out
}

// reconcile is Reconcile that also counts the rows whose state changed.
func reconcile(f ir.Fact, ids []string, rows []ir.Row) ([]ir.Row, int) {
	if f.Kind == ir.KindUnknown || len(ids) == 0 {
		return rows, 0
	}

	vars := factVars(f)
	out := slices.Clone(rows)
	changed := 0
	for i := range out {
		if !slices.Contains(ids, out[i].ID) {
			continue
		}
		next := applyFact(f, vars, out[i])
		if sameState(next, out[i]) {
			continue
		}
		out[i] = next
		changed++
	}
	if changed == 0 {
		return rows, 0
	}
	return out, changed
}

func applyFact(f ir.Fact, vars map[string]string, row ir.Row) ir.Row {
	next := row.Clone()
	if f.Status != "" {
		next.Status = Render(f.Status, vars, &row)
	}
	for _, field := range slices.Sorted(maps.Keys(f.Set)) {
		_ = next.SetField(field, Render(f.Set[field], vars, &row))
	}
	next.LastMessage = f.Trace()
	if f.Verify != nil {
		if dim := next.Verification.Get(f.Verify.Dimension); dim != nil {
			dim.State = f.Verify.State
			dim.Error = Render(f.Verify.Error, vars, &row)
		}
	}
	return next
}

func sameState(a, b ir.Row) bool {
	return a.Status == b.Status &&
		a.LastMessage == b.LastMessage &&
		a.Verification == b.Verification &&
		a.CredentialRef == b.CredentialRef &&
		a.ItemName == b.ItemName &&
		a.Code == b.Code &&
		a.Owner == b.Owner &&
		maps.Equal(a.Fields, b.Fields)
}

// factVars returns the template variables of a fact: its bindings plus the
// composed mismatch summary.
func factVars(f ir.Fact) map[string]string {
	if len(f.Mismatches) == 0 {
		return f.Bindings
	}
	vars := maps.Clone(f.Bindings)
	if vars == nil {
		vars = make(map[string]string, 1)
	}
	vars[profile.SummaryBinding] = MismatchSummary(f.Mismatches)
	return vars
}

// MismatchSummary renders field mismatches as "Page: A ≠ B, Item: C ≠ D".
func MismatchSummary(ms []ir.FieldMismatch) string {
	parts := make([]string, 0, len(ms))
	for _, m := range ms {
		label, ok := mismatchLabels[m.Field]
		if !ok {
			label = m.Field
		}
		parts = append(parts, label+": "+m.Expected+" ≠ "+m.Found)
	}
	return strings.Join(parts, ", ")
}
