package parser

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/adrecon/internal/ir"
	"github.com/roach88/adrecon/internal/profile"
)

var receivedAt = time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC)

func builtinParser(t *testing.T, name string) *Parser {
	t.Helper()
	set, err := profile.Builtin()
	require.NoError(t, err)
	p, ok := set.Get(name)
	require.True(t, ok, name)
	return New(p)
}

func event(topic, payload string) ir.RawEvent {
	return ir.RawEvent{Topic: topic, Subject: "7-key", Payload: payload, ReceivedAt: receivedAt}
}

func lineEvent(topic string) ir.RawEvent {
	return event(topic, "")
}

func TestParse_Envelope(t *testing.T) {
	p := builtinParser(t, "pagename")

	res := p.Parse(event("pagename", `{"data":{"message":["[2024-01-01 10:00:00] Fetching Campaign Data for 123 (ON)","extra"]}}`), nil)
	require.NoError(t, res.Err)
	assert.Equal(t, "[2024-01-01 10:00:00] Fetching Campaign Data for 123 (ON) extra", res.LogLine)
	require.Len(t, res.Facts, 1)
	assert.Equal(t, ir.KindFetchStarted, res.Facts[0].Kind)
}

func TestParse_MalformedEnvelope(t *testing.T) {
	p := builtinParser(t, "pagename")

	payloads := []string{
		`not json`,
		`{"data":{}}`,
		`{"data":{"message":[]}}`,
		`{"other":1}`,
		`{"data":{"message":[1,2]}}`,
	}
	for _, payload := range payloads {
		t.Run(payload, func(t *testing.T) {
			res := p.Parse(event("pagename", payload), nil)
			assert.ErrorIs(t, res.Err, ErrMalformedEnvelope)
			assert.Equal(t, payload, res.LogLine)
			require.Len(t, res.Facts, 1)
			assert.Equal(t, ir.KindUnknown, res.Facts[0].Kind)
			assert.False(t, res.Facts[0].Mutates())
		})
	}
}

func TestParseLine_FetchStarted(t *testing.T) {
	p := builtinParser(t, "pagename")

	facts := p.ParseLine(lineEvent("pagename"), "[2024-01-01 10:00:00] Fetching Campaign Data for 123 (ON)", nil)
	require.Len(t, facts, 1)
	f := facts[0]

	assert.Equal(t, ir.KindFetchStarted, f.Kind)
	assert.Equal(t, "fetch-started", f.Rule)
	assert.Equal(t, "pagename", f.Topic)
	assert.Equal(t, "7-key", f.Subject)
	assert.Equal(t, "2024-01-01 10:00:00", f.Stamp)
	assert.Equal(t, "Fetching Campaign Data for 123 (ON)", f.Content)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), f.Timestamp)
	assert.Equal(t, []ir.KeySet{
		{{Field: "account_id", Value: "123"}, {Field: "on_off", Value: "ON"}},
		{{Field: "account_id", Value: "123"}},
	}, f.MatchKeys)
	assert.Equal(t, "Fetching ⏳", f.Status)
}

func TestParseLine_Location(t *testing.T) {
	set, err := profile.Builtin()
	require.NoError(t, err)
	prof, _ := set.Get("pagename")
	manila := time.FixedZone("Asia/Manila", 8*3600)
	p := New(prof, WithLocation(manila))

	facts := p.ParseLine(lineEvent("pagename"), "[2024-01-01 10:00:00] Fetching Campaign Data for 123 (ON)", nil)
	assert.Equal(t, time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC), facts[0].Timestamp.UTC())
}

func TestParseLine_Unauthorized(t *testing.T) {
	p := builtinParser(t, "pagename")

	facts := p.ParseLine(lineEvent("pagename"), "Error during campaign fetch for Ad Account 123 (ON): 401 Client Error", nil)
	require.Len(t, facts, 1)
	f := facts[0]

	assert.Equal(t, ir.KindUnauthorized, f.Kind)
	assert.Equal(t, ir.ScopeAccount, f.Scope)
	assert.Equal(t, receivedAt, f.Timestamp, "no stamp in line falls back to receipt time")
	assert.Equal(t, "", f.Stamp)
	assert.Equal(t, "Unauthorized ❌ ({on_off|upper})", f.Status)
	assert.Contains(t, f.Notice, "401 Unauthorized Error")
	require.NotNil(t, f.Verify)
	assert.Equal(t, ir.DimensionCredential, f.Verify.Dimension)
}

func TestParseLine_Forbidden(t *testing.T) {
	p := builtinParser(t, "adsets")

	facts := p.ParseLine(lineEvent("adsets"),
		"403 Client Error: Forbidden for url: https://graph.facebook.com/v22.0/act_98765/campaigns?fields=id", nil)
	require.Len(t, facts, 1)
	assert.Equal(t, ir.KindForbidden, facts[0].Kind)
	assert.Equal(t, []ir.KeySet{{{Field: "account_id", Value: "98765"}}}, facts[0].MatchKeys)
}

func TestParseLine_ScheduleDict(t *testing.T) {
	p := builtinParser(t, "adsets")

	facts := p.ParseLine(lineEvent("adsets"),
		"[2024-01-01 10:00:00] Fetching Campaign Data for 123 schedule {'on_off': 'OFF', 'time': '22:00', 'paused': True}", nil)
	require.Len(t, facts, 1)
	f := facts[0]
	assert.Equal(t, ir.KindFetchStarted, f.Kind)
	assert.Equal(t, "OFF", f.Bindings["on_off"])
	assert.Equal(t, ir.KeySet{{Field: "account_id", Value: "123"}, {Field: "on_off", Value: "OFF"}}, f.MatchKeys[0])
}

func TestParseLine_BadScheduleDegrades(t *testing.T) {
	p := builtinParser(t, "adsets")

	facts := p.ParseLine(lineEvent("adsets"),
		"[2024-01-01 10:00:00] Fetching Campaign Data for 123 schedule {'on_off': ", nil)
	require.Len(t, facts, 1)
	assert.Equal(t, ir.KindUnknown, facts[0].Kind)
	assert.Equal(t, "fetch-scheduled", facts[0].Rule)
}

func TestParseLine_BadTimestampDegrades(t *testing.T) {
	p := builtinParser(t, "adsets")

	facts := p.ParseLine(lineEvent("adsets"), "[yesterday] Processing 123 Completed", nil)
	require.Len(t, facts, 1)
	assert.Equal(t, ir.KindUnknown, facts[0].Kind)
}

func TestParseLine_Unmatched(t *testing.T) {
	p := builtinParser(t, "adsets")

	facts := p.ParseLine(lineEvent("adsets"), "[2024-01-01 10:00:00] Worker heartbeat", nil)
	require.Len(t, facts, 1)
	f := facts[0]
	assert.Equal(t, ir.KindUnknown, f.Kind)
	assert.Equal(t, "", f.Rule)
	assert.Equal(t, "[2024-01-01 10:00:00] Worker heartbeat", f.Raw)
	assert.Empty(t, f.MatchKeys)
}

func TestParseLine_MultipleRulesMatch(t *testing.T) {
	prof := &profile.Profile{
		Name:  "overlap",
		Topic: "overlap",
		Rules: []profile.Rule{
			{
				Name:    "fetch",
				Kind:    ir.KindFetchStarted,
				Pattern: regexp.MustCompile(`Fetching for (?P<account_id>\d+)`),
				Keys:    [][]profile.KeyField{{{Name: "account_id"}}},
				Status:  "Fetching",
			},
			{
				Name:    "account-seen",
				Kind:    ir.KindOperationFailed,
				Pattern: regexp.MustCompile(`for (?P<account_id>\d+) failed`),
				Keys:    [][]profile.KeyField{{{Name: "account_id"}}},
				Scope:   ir.ScopeAccount,
				Status:  "Failed",
			},
		},
	}
	p := New(prof)

	facts := p.ParseLine(lineEvent("overlap"), "Fetching for 42 failed", nil)
	require.Len(t, facts, 2)
	assert.Equal(t, "fetch", facts[0].Rule)
	assert.Equal(t, "account-seen", facts[1].Rule)
	assert.NotEqual(t, facts[0].ID, facts[1].ID)
}

func TestParseLine_EditBudget(t *testing.T) {
	p := builtinParser(t, "editbudget")

	facts := p.ParseLine(lineEvent("editbudget"),
		"[2024-01-01 10:00:00] ❌ Error updating budget for campaign: Summer Sale in account 555: (#100) Invalid budget", nil)
	require.Len(t, facts, 1)
	f := facts[0]
	assert.Equal(t, ir.KindOperationFailed, f.Kind)
	assert.Equal(t, "Summer Sale", f.Bindings["campaign_name"])
	assert.Equal(t, "555", f.Bindings["account_id"])
	assert.Equal(t, "(#100) Invalid budget", f.Bindings["error"])
}

func TestParseLine_LocationRecallsPage(t *testing.T) {
	p := builtinParser(t, "editlocation")
	mem := MapMemory{}

	first := p.ParseLine(lineEvent("editlocation"), "Processing location update for page: 'Shoe Page'", mem)
	require.Len(t, first, 1)
	assert.Equal(t, "Shoe Page", mem["page_name"])

	facts := p.ParseLine(lineEvent("editlocation"), "Finished. Successfully updated 4 ad sets. Failed to update 1.", mem)
	require.Len(t, facts, 1)
	f := facts[0]
	assert.Equal(t, ir.KindOperationSucceeded, f.Kind)
	assert.Equal(t, map[string]int64{"updated": 4, "failed": 1}, f.Counts)
	assert.Equal(t, []ir.KeySet{{{Field: "page_name", Value: "Shoe Page"}}}, f.MatchKeys)
}

func TestParseLine_LocationWithoutMemory(t *testing.T) {
	p := builtinParser(t, "editlocation")

	facts := p.ParseLine(lineEvent("editlocation"), "Finished. Successfully updated 4 ad sets. Failed to update 1.", nil)
	require.Len(t, facts, 1)
	assert.Equal(t, ir.KindOperationSucceeded, facts[0].Kind)
	assert.Empty(t, facts[0].MatchKeys, "no page to attribute the summary to")
	assert.False(t, facts[0].Mutates())
}

func TestParseLine_StrictNoMatch(t *testing.T) {
	p := builtinParser(t, "editlocation")

	facts := p.ParseLine(lineEvent("editlocation"),
		"❌ STRICT MODE: No exact match found under ad account 321 for page_name: 'Shoe Page', item_name: 'Boots', campaign_code: 'B1'", nil)
	require.Len(t, facts, 1)
	f := facts[0]
	assert.Equal(t, ir.KindStrictMismatch, f.Kind)
	assert.Equal(t, "strict-no-match", f.Rule)
	require.Len(t, f.MatchKeys, 2)
	assert.Equal(t, ir.KeySet{
		{Field: "account_id", Value: "321"},
		{Field: "page_name", Value: "Shoe Page"},
		{Field: "item_name", Value: "Boots"},
		{Field: "code", Value: "B1"},
	}, f.MatchKeys[0])
}

func TestParseLine_StrictMismatch(t *testing.T) {
	p := builtinParser(t, "editlocation")

	facts := p.ParseLine(lineEvent("editlocation"),
		"STRICT MODE: No exact match. Closest match 'Shoe Pg - Boots' has mismatches: page_name: expected 'Shoe Page', found 'Shoe Pg', item_name: expected 'Boots', found 'Boot'", nil)
	require.Len(t, facts, 1)
	f := facts[0]
	assert.Equal(t, ir.KindStrictMismatch, f.Kind)
	assert.Equal(t, []ir.FieldMismatch{
		{Field: "page_name", Expected: "Shoe Page", Found: "Shoe Pg"},
		{Field: "item_name", Expected: "Boots", Found: "Boot"},
	}, f.Mismatches)
	assert.Equal(t, []ir.KeySet{{
		{Field: "page_name", Value: "Shoe Page"},
		{Field: "item_name", Value: "Boots"},
	}}, f.MatchKeys, "code is optional and unbound")
}

func TestParseLine_StrictMismatchWithoutItemsDegrades(t *testing.T) {
	p := builtinParser(t, "editlocation")

	facts := p.ParseLine(lineEvent("editlocation"),
		"STRICT MODE: No exact match. Closest match 'X' has mismatches: unreadable", nil)
	require.Len(t, facts, 1)
	assert.Equal(t, ir.KindUnknown, facts[0].Kind)
}

func TestParseLine_CampaignCreation(t *testing.T) {
	p := builtinParser(t, "campaign-creation")
	ev := lineEvent("campaign-creations")

	facts := p.ParseLine(ev, `Task Created: Summer Sale - Status: PENDING - Message: {"id": 12, "ok": true}`, nil)
	require.Len(t, facts, 1)
	f := facts[0]
	assert.Equal(t, ir.KindTaskCreated, f.Kind)
	assert.Equal(t, `{"id":12,"ok":true}`, f.Bindings["detail"])
	assert.Equal(t, []ir.KeySet{
		{{Field: "owner", Value: "7-key"}, {Field: "campaign_name", Value: "Summer Sale"}},
		{{Field: "owner", Value: "7-key"}},
	}, f.MatchKeys)

	facts = p.ParseLine(ev, `Task Created: Summer Sale - Status: PENDING - Message: not-json`, nil)
	require.Len(t, facts, 1)
	assert.Equal(t, ir.KindUnknown, facts[0].Kind)
}

func TestParseLine_AdFailed(t *testing.T) {
	p := builtinParser(t, "campaign-creation")

	facts := p.ParseLine(lineEvent("campaign-creations"),
		`Failed to create ad for adset Adset A, details: {"error": {"message": "Invalid image", "code": 100}}`, nil)
	require.Len(t, facts, 1)
	f := facts[0]
	assert.Equal(t, ir.KindOperationFailed, f.Kind)
	assert.Equal(t, "Invalid image", f.Bindings["error"])
	assert.Equal(t, "Adset A", f.Bindings["adset"])

	facts = p.ParseLine(lineEvent("campaign-creations"),
		`Failed to create ad for adset Adset A, details: {"status": 500}`, nil)
	assert.Equal(t, ir.KindUnknown, facts[0].Kind, "missing error.message degrades")
}

func TestParseLine_NoSubjectNoOwner(t *testing.T) {
	p := builtinParser(t, "campaign-creation")
	ev := ir.RawEvent{Topic: "campaign-creations", ReceivedAt: receivedAt}

	facts := p.ParseLine(ev, "Creating Facebook campaign: Summer Sale.", nil)
	require.Len(t, facts, 1)
	assert.Empty(t, facts[0].MatchKeys)
}

func TestParseLine_NormalizesNFC(t *testing.T) {
	p := builtinParser(t, "editlocation")

	facts := p.ParseLine(lineEvent("editlocation"), "Processing location update for page: 'Cafe\u0301'", nil)
	require.Len(t, facts, 1)
	assert.Equal(t, "Caf\u00e9", facts[0].Bindings["page_name"])
}

func TestParseLine_DuplicateDeliveryParsesAlike(t *testing.T) {
	p := builtinParser(t, "adsets")
	line := "[2024-01-01 10:00:00] Processing 123 Completed"

	a := p.ParseLine(lineEvent("adsets"), line, nil)
	ev := lineEvent("adsets")
	ev.ReceivedAt = receivedAt.Add(time.Minute)
	b := p.ParseLine(ev, line, nil)

	assert.Equal(t, a, b)
}

func TestParse_EmptyPayloadLogsPlaceholder(t *testing.T) {
	p := builtinParser(t, "pagename")

	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"empty", "", true},
		{"blank", "   ", true},
		{"empty first line", `{"data":{"message":[""]}}`, false},
		{"blank lines", `{"data":{"message":[" ",""]}}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := p.Parse(event("pagename", tt.payload), nil)
			if tt.wantErr {
				assert.ErrorIs(t, res.Err, ErrMalformedEnvelope)
			} else {
				assert.NoError(t, res.Err)
			}
			assert.Equal(t, EmptyPayload, res.LogLine)
			require.Len(t, res.Facts, 1)
			assert.Equal(t, ir.KindUnknown, res.Facts[0].Kind)
		})
	}
}

func TestRestore_RemembersLastLoggedPage(t *testing.T) {
	p := builtinParser(t, "editlocation")
	mem := MapMemory{}

	p.Restore(lineEvent("editlocation"), []string{
		"[2024-01-01 09:00:00] ⏳ Processing location update for page: 'Old Page'...",
		"unrelated line",
		"[2024-01-01 09:05:00] ⏳ Processing location update for page: 'Shoe Page'...",
		"✅ Finished. Successfully updated 3 ad sets. Failed to update 0.",
	}, mem)

	assert.Equal(t, MapMemory{"page_name": "Shoe Page"}, mem)

	facts := p.ParseLine(lineEvent("editlocation"), "✅ Finished. Successfully updated 3 ad sets. Failed to update 0.", mem)
	require.Len(t, facts, 1)
	assert.Equal(t, []ir.KeySet{{{Field: "page_name", Value: "Shoe Page"}}}, facts[0].MatchKeys)
}

func TestRestore_NothingToRemember(t *testing.T) {
	p := builtinParser(t, "pagename")
	mem := MapMemory{}

	p.Restore(lineEvent("pagename"), []string{"[2024-01-01 10:00:00] Fetching Campaign Data for 123 (ON)"}, mem)

	assert.Empty(t, mem)
}
