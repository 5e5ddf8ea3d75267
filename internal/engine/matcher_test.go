package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/adrecon/internal/ir"
)

// Test helper to create a row with an on_off field
func makeRow(id, account, onOff string) ir.Row {
	return ir.Row{
		ID:        id,
		AccountID: account,
		Fields:    map[string]string{"on_off": onOff},
		Status:    "Ready",
	}
}

// Test helper to create a fact with the given key sets
func makeFact(kind ir.FactKind, scope ir.Scope, keys ...ir.KeySet) ir.Fact {
	return ir.Fact{
		Kind:      kind,
		Scope:     scope,
		MatchKeys: keys,
		Stamp:     "2024-01-01 10:00:00",
		Content:   "test line",
		Bindings:  map[string]string{},
	}
}

func keys(pairs ...string) ir.KeySet {
	ks := make(ir.KeySet, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		ks = append(ks, ir.Binding{Field: pairs[i], Value: pairs[i+1]})
	}
	return ks
}

func TestMatch_FirstKeySetWins(t *testing.T) {
	rows := []ir.Row{
		makeRow("r1", "123", "ON"),
		makeRow("r2", "123", "OFF"),
	}
	f := makeFact(ir.KindFetchStarted, ir.ScopeItem,
		keys("account_id", "123", "on_off", "ON"),
		keys("account_id", "123"),
	)

	res := Match(f, rows, MatchAll)
	assert.Equal(t, []string{"r1"}, res.IDs)
	assert.Equal(t, keys("account_id", "123", "on_off", "ON"), res.KeySet)
}

func TestMatch_FallsBackToBroaderKeySet(t *testing.T) {
	rows := []ir.Row{
		makeRow("r1", "123", "OFF"),
		makeRow("r2", "456", "ON"),
	}
	f := makeFact(ir.KindFetchStarted, ir.ScopeItem,
		keys("account_id", "123", "on_off", "ON"),
		keys("account_id", "123"),
	)

	res := Match(f, rows, MatchAll)
	assert.Equal(t, []string{"r1"}, res.IDs)
	assert.Equal(t, keys("account_id", "123"), res.KeySet)
}

func TestMatch_ExactCaseSensitive(t *testing.T) {
	rows := []ir.Row{makeRow("r1", "123", "on")}
	f := makeFact(ir.KindFetchStarted, ir.ScopeItem, keys("account_id", "123", "on_off", "ON"))

	assert.Empty(t, Match(f, rows, MatchAll).IDs)
}

func TestMatch_NoRows(t *testing.T) {
	f := makeFact(ir.KindFetchStarted, ir.ScopeItem, keys("account_id", "999"))
	assert.Empty(t, Match(f, []ir.Row{makeRow("r1", "123", "ON")}, MatchAll).IDs)
	assert.Empty(t, Match(f, nil, MatchAll).IDs)
}

func TestMatch_UnknownNeverMatches(t *testing.T) {
	rows := []ir.Row{makeRow("r1", "123", "ON")}
	f := makeFact(ir.KindUnknown, ir.ScopeItem, keys("account_id", "123"))

	assert.Empty(t, Match(f, rows, MatchAll).IDs)
}

func TestMatch_NoKeySets(t *testing.T) {
	rows := []ir.Row{makeRow("r1", "123", "ON")}
	f := makeFact(ir.KindOperationSucceeded, ir.ScopeItem)

	assert.Empty(t, Match(f, rows, MatchAll).IDs)
}

func TestMatch_EmptyKeySetIgnored(t *testing.T) {
	rows := []ir.Row{makeRow("r1", "123", "ON")}
	f := makeFact(ir.KindOperationSucceeded, ir.ScopeItem, ir.KeySet{})

	assert.Empty(t, Match(f, rows, MatchAll).IDs)
}

func TestMatch_Policies(t *testing.T) {
	rows := []ir.Row{
		makeRow("r1", "123", "ON"),
		makeRow("r2", "123", "ON"),
		makeRow("r3", "456", "ON"),
	}
	item := makeFact(ir.KindOperationSucceeded, ir.ScopeItem, keys("account_id", "123"))
	account := makeFact(ir.KindUnauthorized, ir.ScopeAccount, keys("account_id", "123"))

	tests := []struct {
		name          string
		fact          ir.Fact
		policy        MatchPolicy
		wantIDs       []string
		wantAmbiguous bool
	}{
		{"all item", item, MatchAll, []string{"r1", "r2"}, false},
		{"unique item", item, MatchUnique, nil, true},
		{"first item", item, MatchFirst, []string{"r1"}, false},
		{"all account", account, MatchAll, []string{"r1", "r2"}, false},
		{"unique account", account, MatchUnique, []string{"r1", "r2"}, false},
		{"first account", account, MatchFirst, []string{"r1", "r2"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Match(tt.fact, rows, tt.policy)
			assert.Equal(t, tt.wantIDs, res.IDs)
			assert.Equal(t, tt.wantAmbiguous, res.Ambiguous)
		})
	}
}

func TestMatch_UniqueSingleRow(t *testing.T) {
	rows := []ir.Row{makeRow("r1", "123", "ON"), makeRow("r2", "456", "ON")}
	f := makeFact(ir.KindOperationSucceeded, ir.ScopeItem, keys("account_id", "123"))

	res := Match(f, rows, MatchUnique)
	assert.Equal(t, []string{"r1"}, res.IDs)
	assert.False(t, res.Ambiguous)
}

func TestMatch_CanonicalAndExtraFields(t *testing.T) {
	rows := []ir.Row{{
		ID:        "r1",
		AccountID: "321",
		ItemName:  "Boots",
		Code:      "B1",
		Fields:    map[string]string{"page_name": "Shoe Page"},
	}}
	f := makeFact(ir.KindStrictMismatch, ir.ScopeItem,
		keys("account_id", "321", "page_name", "Shoe Page", "item_name", "Boots", "code", "B1"))

	assert.Equal(t, []string{"r1"}, Match(f, rows, MatchAll).IDs)
}

func TestParseMatchPolicy(t *testing.T) {
	p, err := ParseMatchPolicy("")
	require.NoError(t, err)
	assert.Equal(t, MatchAll, p)

	p, err = ParseMatchPolicy("first")
	require.NoError(t, err)
	assert.Equal(t, MatchFirst, p)

	_, err = ParseMatchPolicy("fuzzy")
	assert.Error(t, err)
}
