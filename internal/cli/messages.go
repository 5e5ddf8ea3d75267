package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/adrecon/internal/engine"
)

// MessagesResult is the output of the messages subcommands.
type MessagesResult struct {
	View     string   `json:"view"`
	Total    int      `json:"total"`
	Messages []string `json:"messages"`
}

// WriteText prints the log lines oldest first.
func (r MessagesResult) WriteText(w io.Writer) error {
	if len(r.Messages) == 0 {
		_, err := fmt.Fprintf(w, "No messages in %s.\n", r.View)
		return err
	}
	for _, m := range r.Messages {
		if _, err := fmt.Fprintln(w, m); err != nil {
			return err
		}
	}
	return nil
}

// NewMessagesCommand creates the messages command group.
func NewMessagesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "messages",
		Short: "Inspect a view's message log",
	}
	cmd.AddCommand(newMessagesShowCommand(rootOpts))
	cmd.AddCommand(newMessagesClearCommand(rootOpts))
	return cmd
}

func newMessagesShowCommand(opts *RootOptions) *cobra.Command {
	var tail int
	cmd := &cobra.Command{
		Use:           "show <view>",
		Short:         "Print the message log of a view",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, cmd, func(rt *runtime, f *OutputFormatter) error {
				t, err := rt.table(f, args[0])
				if err != nil {
					return err
				}
				msgs := t.Messages()
				total := len(msgs)
				if tail > 0 && total > tail {
					msgs = msgs[total-tail:]
				}
				if msgs == nil {
					msgs = []string{}
				}
				return f.Success(MessagesResult{View: args[0], Total: total, Messages: msgs})
			})
		},
	}
	cmd.Flags().IntVarP(&tail, "tail", "n", 0, "show only the last n lines")
	return cmd
}

func newMessagesClearCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "clear <view>",
		Short:         "Empty the message log of a view",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, cmd, func(rt *runtime, f *OutputFormatter) error {
				ev := engine.Event{Type: engine.EventTypeCommand, View: args[0], Command: engine.ClearMessages{}}
				if err := rt.apply(commandContext(cmd), f, ev); err != nil {
					return err
				}
				return f.Success(MessagesResult{View: args[0], Messages: []string{}})
			})
		},
	}
}
