package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/adrecon/internal/engine"
	"github.com/roach88/adrecon/internal/ir"
)

// ReplayRecord is one line of a replay file. Payload records are handled
// like pushed events; Lines records like an outbound call's response.
type ReplayRecord struct {
	View       string    `json:"view"`
	ID         string    `json:"id,omitempty"`
	Payload    string    `json:"payload,omitempty"`
	Lines      []string  `json:"lines,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// ReplayViewResult summarizes one view after replay.
type ReplayViewResult struct {
	View     string `json:"view"`
	Rows     int    `json:"rows"`
	Messages int    `json:"messages"`
	Revision int64  `json:"revision"`
}

// ReplayResult is the output of the replay command.
type ReplayResult struct {
	Events  int                `json:"events"`
	Skipped int                `json:"skipped"`
	Views   []ReplayViewResult `json:"views"`
}

// WriteText prints the totals and a line per view.
func (r ReplayResult) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Replayed %d event(s), skipped %d.\n", r.Events, r.Skipped)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VIEW\tROWS\tMESSAGES\tREVISION")
	for _, v := range r.Views {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", v.View, v.Rows, v.Messages, v.Revision)
	}
	return tw.Flush()
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "replay <file>",
		Short: "Apply recorded events to the stored tables",
		Long: `Apply a JSONL file of recorded events, in order, to the stored tables.

Each line is {"view": ..., "payload": ...} for a pushed event or
{"view": ..., "lines": [...]} for an outbound call's response. Use "-" to
read stdin. Replaying the same file twice leaves the tables unchanged,
since message lines are deduplicated and facts are idempotent.

Exit codes:
  0 - All records applied
  1 - A record was rejected and --strict was set
  2 - Command error (bad config, file not found, etc.)

Examples:
  adrecon replay events.jsonl
  adrecon replay --format json - < events.jsonl`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(rootOpts, cmd, args[0], strict)
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "stop on the first rejected record")
	return cmd
}

func runReplay(opts *RootOptions, cmd *cobra.Command, path string, strict bool) error {
	f := newFormatter(opts, cmd)

	var in io.Reader
	if path == "-" {
		in = cmd.InOrStdin()
	} else {
		file, err := os.Open(path)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeInput, "failed to open replay file", err)
		}
		defer file.Close()
		in = file
	}

	return withRuntime(opts, cmd, func(rt *runtime, f *OutputFormatter) error {
		ctx := commandContext(cmd)
		result := ReplayResult{Views: []ReplayViewResult{}}

		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			if len(scanner.Bytes()) == 0 {
				continue
			}
			ev, err := decodeRecord(scanner.Bytes())
			if err == nil {
				err = rt.engine.Handle(ctx, ev)
			}
			if err != nil {
				if strict {
					return f.Fail(ExitFailure, ErrCodeRejected, fmt.Sprintf("record %d rejected", lineNo), err)
				}
				f.VerboseLog("skipping record %d: %v", lineNo, err)
				result.Skipped++
				continue
			}
			result.Events++
		}
		if err := scanner.Err(); err != nil {
			return f.Fail(ExitCommandError, ErrCodeInput, "failed to read replay file", err)
		}

		for _, name := range rt.engine.Views() {
			t, _ := rt.engine.Table(name)
			result.Views = append(result.Views, ReplayViewResult{
				View:     name,
				Rows:     len(t.Get()),
				Messages: len(t.Messages()),
				Revision: t.Revision(),
			})
		}
		return f.Success(result)
	})
}

func decodeRecord(line []byte) (engine.Event, error) {
	var rec ReplayRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return engine.Event{}, fmt.Errorf("decode record: %w", err)
	}
	if len(rec.Lines) > 0 {
		return engine.Event{Type: engine.EventTypeIngest, View: rec.View, Lines: rec.Lines}, nil
	}
	if rec.Payload == "" {
		return engine.Event{}, fmt.Errorf("record for %q has neither payload nor lines", rec.View)
	}
	return engine.Event{
		Type: engine.EventTypeRaw,
		View: rec.View,
		Raw: &ir.RawEvent{
			ID:         rec.ID,
			Payload:    rec.Payload,
			ReceivedAt: rec.ReceivedAt,
		},
	}, nil
}
