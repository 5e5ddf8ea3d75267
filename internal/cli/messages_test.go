package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessages_ShowTailClear(t *testing.T) {
	env := newTestEnv(t, "")
	events := env.write(t, "events.jsonl",
		`{"view":"pagename","lines":["[2024-01-01 10:00:00] one","[2024-01-01 10:00:01] two","[2024-01-01 10:00:02] three"]}`+"\n")
	_, err := env.run(t, "replay", events)
	require.NoError(t, err)

	var all MessagesResult
	env.runJSON(t, &all, "messages", "show", "pagename")
	assert.Equal(t, 3, all.Total)
	assert.Len(t, all.Messages, 3)

	var tail MessagesResult
	env.runJSON(t, &tail, "messages", "show", "pagename", "--tail", "1")
	assert.Equal(t, 3, tail.Total)
	assert.Equal(t, []string{"[2024-01-01 10:00:02] three"}, tail.Messages)

	out, err := env.run(t, "messages", "show", "pagename", "-n", "2")
	require.NoError(t, err)
	assert.Equal(t, "[2024-01-01 10:00:01] two\n[2024-01-01 10:00:02] three\n", out)

	var cleared MessagesResult
	env.runJSON(t, &cleared, "messages", "clear", "pagename")
	assert.Empty(t, cleared.Messages)

	out, err = env.run(t, "messages", "show", "pagename")
	require.NoError(t, err)
	assert.Equal(t, "No messages in pagename.\n", out)
}

func TestMessages_UnknownView(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.run(t, "messages", "show", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = env.run(t, "messages", "clear", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestMessagesResult_WriteText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, MessagesResult{View: "v", Messages: []string{"a", "b"}}.WriteText(&buf))
	assert.Equal(t, "a\nb\n", buf.String())
}
