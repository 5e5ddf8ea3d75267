package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/adrecon/internal/ir"
)

func TestOutcomeFact(t *testing.T) {
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	failed := OutcomeFact(Outcome{
		Keys: []map[string]string{
			{"campaign_name": "Summer", "account_id": "123"},
			{"account_id": "123"},
		},
		Message: "budget too low",
	}, "editbudget", at)

	assert.Equal(t, ir.KindOperationFailed, failed.Kind)
	assert.Equal(t, []ir.KeySet{
		{{Field: "account_id", Value: "123"}, {Field: "campaign_name", Value: "Summer"}},
		{{Field: "account_id", Value: "123"}},
	}, failed.MatchKeys)
	assert.Equal(t, "Error ❌ (budget too low)", Render(failed.Status, failed.Bindings, nil))
	assert.Equal(t, "2024-01-01 12:00:00 - budget too low", failed.Trace())
	assert.True(t, failed.Mutates())

	ok := OutcomeFact(Outcome{Keys: []map[string]string{{"account_id": "1"}}, Success: true, Message: "ON"}, "pagename", at)
	assert.Equal(t, ir.KindOperationSucceeded, ok.Kind)
	assert.Equal(t, "Success ✅ (ON)", Render(ok.Status, ok.Bindings, nil))

	bare := OutcomeFact(Outcome{Keys: []map[string]string{{"account_id": "1"}}, Success: true}, "pagename", at)
	assert.Equal(t, "Success ✅", bare.Status)
}

func TestOutcomeFact_EmptyKeysDoNotMutate(t *testing.T) {
	f := OutcomeFact(Outcome{Keys: []map[string]string{{}}}, "t", time.Now())
	assert.False(t, f.Mutates())
}
