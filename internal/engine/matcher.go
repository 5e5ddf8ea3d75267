package engine

import (
	"fmt"

	"github.com/roach88/adrecon/internal/ir"
)

// MatchPolicy decides what happens when an item-scoped fact matches more
// than one row. Account-scoped facts always apply to every match.
type MatchPolicy string

const (
	// MatchAll applies the fact to every matching row.
	MatchAll MatchPolicy = "all"
	// MatchUnique drops the fact when it matches more than one row.
	MatchUnique MatchPolicy = "unique"
	// MatchFirst applies the fact to the first matching row in table order.
	MatchFirst MatchPolicy = "first"
)

// ParseMatchPolicy validates a policy name. The empty string maps to MatchAll.
func ParseMatchPolicy(s string) (MatchPolicy, error) {
	switch MatchPolicy(s) {
	case "", MatchAll:
		return MatchAll, nil
	case MatchUnique, MatchFirst:
		return MatchPolicy(s), nil
	}
	return "", fmt.Errorf("unknown match policy %q (want all, unique or first)", s)
}

// MatchResult is the outcome of matching one fact.
type MatchResult struct {
	// IDs lists matched row ids in table order.
	IDs []string
	// KeySet is the key set that produced the match.
	KeySet ir.KeySet
	// Ambiguous is set when MatchUnique dropped a multi-row match.
	Ambiguous bool
}

// Match finds the rows a fact applies to.
//
// Key sets are tried in priority order and the first one that matches at
// least one row wins; later sets are not consulted. A key set matches a row
// when every binding equals the row field exactly.
func Match(f ir.Fact, rows []ir.Row, policy MatchPolicy) MatchResult {
	if !f.Mutates() {
		return MatchResult{}
	}

	for _, ks := range f.MatchKeys {
		var ids []string
		for _, row := range rows {
			if matchesKeySet(row, ks) {
				ids = append(ids, row.ID)
			}
		}
		if len(ids) == 0 {
			continue
		}

		res := MatchResult{IDs: ids, KeySet: ks}
		if f.Scope == ir.ScopeAccount || len(ids) == 1 {
			return res
		}
		switch policy {
		case MatchUnique:
			return MatchResult{KeySet: ks, Ambiguous: true}
		case MatchFirst:
			res.IDs = ids[:1]
		}
		return res
	}
	return MatchResult{}
}

func matchesKeySet(row ir.Row, ks ir.KeySet) bool {
	if len(ks) == 0 {
		return false
	}
	for _, b := range ks {
		v, ok := row.Field(b.Field)
		if !ok || v != b.Value {
			return false
		}
	}
	return true
}
