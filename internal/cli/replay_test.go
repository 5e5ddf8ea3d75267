package cli

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pushed(t *testing.T, view string, lines ...string) string {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"data": map[string]any{"message": lines}})
	require.NoError(t, err)
	rec, err := json.Marshal(ReplayRecord{View: view, Payload: string(payload)})
	require.NoError(t, err)
	return string(rec)
}

func TestReplay_AppliesEventsInOrder(t *testing.T) {
	env := newTestEnv(t, "")
	rows := env.write(t, "rows.json", `[{"id":"r1","account_id":"123","fields":{"on_off":"ON"}}]`)
	_, err := env.run(t, "rows", "import", "pagename", rows)
	require.NoError(t, err)

	events := env.write(t, "events.jsonl", strings.Join([]string{
		pushed(t, "pagename", "[2024-01-01 10:00:00] Fetching Campaign Data for 123 (ON)"),
		"",
		pushed(t, "pagename", "[2024-01-01 10:05:00] Campaign updates completed for 123 (ON)"),
	}, "\n")+"\n")

	var result ReplayResult
	env.runJSON(t, &result, "replay", events)
	assert.Equal(t, 2, result.Events)
	assert.Equal(t, 0, result.Skipped)
	require.Len(t, result.Views, 2)
	assert.Equal(t, ReplayViewResult{View: "pagename", Rows: 1, Messages: 2, Revision: result.Views[0].Revision}, result.Views[0])

	var shown RowsResult
	env.runJSON(t, &shown, "rows", "show", "pagename")
	assert.Equal(t, "Success ✅", shown.Rows[0].Status)
	assert.Equal(t, "2024-01-01 10:05:00 - Campaign updates completed for 123 (ON)", shown.Rows[0].LastMessage)

	// Replaying again ends in the same rows and log.
	var again ReplayResult
	env.runJSON(t, &again, "replay", events)
	assert.Equal(t, 2, again.Views[0].Messages)

	var reshown RowsResult
	env.runJSON(t, &reshown, "rows", "show", "pagename")
	assert.Equal(t, shown.Rows, reshown.Rows)
}

func TestReplay_SkipsOrStopsOnBadRecords(t *testing.T) {
	env := newTestEnv(t, "")
	events := env.write(t, "events.jsonl", strings.Join([]string{
		`not json`,
		`{"view":"nope","lines":["x"]}`,
		`{"view":"pagename"}`,
		`{"view":"pagename","lines":["[2024-01-01 10:00:00] hello"]}`,
	}, "\n"))

	var result ReplayResult
	env.runJSON(t, &result, "replay", events)
	assert.Equal(t, 1, result.Events)
	assert.Equal(t, 3, result.Skipped)

	_, err := env.run(t, "replay", "--strict", events)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "record 1 rejected")
}

func TestReplay_MissingFile(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.run(t, "replay", env.dir+"/absent.jsonl")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReplayResult_WriteText(t *testing.T) {
	var b strings.Builder
	require.NoError(t, ReplayResult{Events: 2, Views: []ReplayViewResult{{View: "pagename", Rows: 1}}}.WriteText(&b))
	assert.Contains(t, b.String(), "Replayed 2 event(s), skipped 0.")
	assert.Contains(t, b.String(), "pagename")
}
