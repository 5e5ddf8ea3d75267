package engine

import (
	"maps"
	"slices"
	"time"

	"github.com/roach88/adrecon/internal/ir"
)

// Outcome reports the result of an outbound call that triggered remote work
// for the rows identified by Keys.
type Outcome struct {
	// Keys lists candidate key sets in priority order, each a field→value map.
	Keys    []map[string]string `json:"keys" validate:"required,min=1,dive,min=1"`
	Success bool                `json:"success"`
	Message string              `json:"message"`
}

// OutcomeFact turns an outcome into a fact that goes through the same
// Match and Reconcile path as pushed facts.
func OutcomeFact(o Outcome, topic string, at time.Time) ir.Fact {
	f := ir.Fact{
		Topic:     topic,
		Raw:       o.Message,
		Stamp:     at.Format(ir.StampLayout),
		Content:   o.Message,
		Timestamp: at,
		Scope:     ir.ScopeItem,
		Bindings:  map[string]string{"message": o.Message},
	}
	for _, m := range o.Keys {
		ks := make(ir.KeySet, 0, len(m))
		for _, field := range slices.Sorted(maps.Keys(m)) {
			ks = append(ks, ir.Binding{Field: field, Value: m[field]})
		}
		if len(ks) > 0 {
			f.MatchKeys = append(f.MatchKeys, ks)
		}
	}

	switch {
	case !o.Success:
		f.Kind = ir.KindOperationFailed
		f.Rule = "outcome-failed"
		f.Status = "Error ❌ ({message})"
	case o.Message == "":
		f.Kind = ir.KindOperationSucceeded
		f.Rule = "outcome-succeeded"
		f.Status = "Success ✅"
	default:
		f.Kind = ir.KindOperationSucceeded
		f.Rule = "outcome-succeeded"
		f.Status = "Success ✅ ({message})"
	}
	return f
}
