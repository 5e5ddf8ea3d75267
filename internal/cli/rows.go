package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/adrecon/internal/engine"
	"github.com/roach88/adrecon/internal/ir"
)

// RowsResult is the output of every rows subcommand.
type RowsResult struct {
	View     string   `json:"view"`
	Revision int64    `json:"revision"`
	Rows     []ir.Row `json:"rows"`
}

// WriteText renders one line per row.
func (r RowsResult) WriteText(w io.Writer) error {
	if len(r.Rows) == 0 {
		_, err := fmt.Fprintf(w, "No rows in %s.\n", r.View)
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tACCOUNT\tITEM\tSTATUS\tACCOUNT CHECK\tCREDENTIAL CHECK\tLAST MESSAGE")
	for _, row := range r.Rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			row.ID, row.AccountID, row.ItemName, row.Status,
			row.Verification.Account.State, row.Verification.Credential.State,
			row.LastMessage)
	}
	return tw.Flush()
}

// NewRowsCommand creates the rows command group.
func NewRowsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rows",
		Short: "Inspect and edit view rows",
	}
	cmd.AddCommand(newRowsShowCommand(rootOpts))
	cmd.AddCommand(newRowsImportCommand(rootOpts))
	cmd.AddCommand(newRowsClearCommand(rootOpts))
	cmd.AddCommand(newRowsEditCommand(rootOpts))
	return cmd
}

func newRowsShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <view>",
		Short:         "Print the rows of a view",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, cmd, func(rt *runtime, f *OutputFormatter) error {
				return outputRows(rt, f, args[0])
			})
		},
	}
}

func newRowsImportCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <view> <file>",
		Short: "Replace the rows of a view from a JSON array",
		Long: `Replace every row of a view with the rows in a JSON array file.
Use "-" to read from stdin. Rows without an id get a new one; rows
without a status become Ready.

Example:
  adrecon rows import pagename rows.json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(opts, cmd)
			rows, err := readRows(cmd, args[1])
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeInput, "failed to read rows", err)
			}
			return withRuntime(opts, cmd, func(rt *runtime, f *OutputFormatter) error {
				ev := engine.Event{
					Type:    engine.EventTypeCommand,
					View:    args[0],
					Command: engine.ReplaceRows{Rows: rows},
				}
				if err := rt.apply(commandContext(cmd), f, ev); err != nil {
					return err
				}
				return outputRows(rt, f, args[0])
			})
		},
	}
}

func newRowsClearCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "clear <view>",
		Short:         "Remove every row of a view and its stored record",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, cmd, func(rt *runtime, f *OutputFormatter) error {
				ev := engine.Event{Type: engine.EventTypeCommand, View: args[0], Command: engine.ClearRows{}}
				if err := rt.apply(commandContext(cmd), f, ev); err != nil {
					return err
				}
				return outputRows(rt, f, args[0])
			})
		},
	}
}

func newRowsEditCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "edit <view> <id> <field> <value>",
		Short: "Set one field of one row",
		Long: `Set one field of one row. Known fields (account_id, item_name, code,
owner, credential_ref, status) are set directly; any other name is stored
in the row's extra fields.`,
		Args:          cobra.ExactArgs(4),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, cmd, func(rt *runtime, f *OutputFormatter) error {
				ev := engine.Event{
					Type: engine.EventTypeCommand,
					View: args[0],
					Command: engine.EditField{
						ID:    args[1],
						Field: args[2],
						Value: args[3],
					},
				}
				if err := rt.apply(commandContext(cmd), f, ev); err != nil {
					return err
				}
				return outputRows(rt, f, args[0])
			})
		},
	}
}

// withRuntime wires the runtime for one command and releases it after.
func withRuntime(opts *RootOptions, cmd *cobra.Command, fn func(*runtime, *OutputFormatter) error) error {
	f := newFormatter(opts, cmd)
	rt, err := setup(commandContext(cmd), opts, cmd, f)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt, f)
}

func outputRows(rt *runtime, f *OutputFormatter, view string) error {
	t, err := rt.table(f, view)
	if err != nil {
		return err
	}
	rows := t.Get()
	if rows == nil {
		rows = []ir.Row{}
	}
	return f.Success(RowsResult{View: view, Revision: t.Revision(), Rows: rows})
}

func readRows(cmd *cobra.Command, path string) ([]ir.Row, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	var rows []ir.Row
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return rows, nil
}
