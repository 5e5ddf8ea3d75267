package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/adrecon/internal/ir"
	"github.com/roach88/adrecon/internal/parser"
	"github.com/roach88/adrecon/internal/store"
)

// StatusReady is the status given to imported rows that carry none.
const StatusReady = "Ready"

// Command is a user-initiated change to one view. Commands run on the Run
// goroutine, so they never interleave with reconciliation.
type Command interface {
	apply(ctx context.Context, e *Engine, v *view) error
	commandName() string
}

// ReplaceRows swaps the whole row collection, as an import does.
// Rows without an id get a fresh one; rows without a status become Ready.
type ReplaceRows struct {
	Rows []ir.Row
}

func (ReplaceRows) commandName() string { return "replace_rows" }

func (c ReplaceRows) apply(ctx context.Context, e *Engine, v *view) error {
	rows, err := e.prepareRows(v.name, c.Rows)
	if err != nil {
		return err
	}
	v.table.Replace(ctx, rows)

	slog.Info("rows replaced", "view", v.name, "rows", len(rows))
	return nil
}

// ClearRows empties the table and removes its persisted records.
type ClearRows struct{}

func (ClearRows) commandName() string { return "clear_rows" }

func (ClearRows) apply(ctx context.Context, _ *Engine, v *view) error {
	v.table.Clear(ctx)
	v.memory = parser.MapMemory{}

	slog.Info("table cleared", "view", v.name)
	return nil
}

// EditField sets one field of one row.
type EditField struct {
	ID    string
	Field string
	Value string
}

func (EditField) commandName() string { return "edit_field" }

func (c EditField) apply(ctx context.Context, _ *Engine, v *view) error {
	err := v.table.EditField(ctx, c.ID, c.Field, c.Value)
	switch {
	case err == nil:
		slog.Debug("field edited", "view", v.name, "row", c.ID, "field", c.Field)
		return nil
	case errors.Is(err, store.ErrRowNotFound):
		return &RuntimeError{
			Code:    ErrCodeRowNotFound,
			Message: "no row with this id",
			View:    v.name,
			RowID:   c.ID,
			Err:     err,
		}
	default:
		return &RuntimeError{
			Code:    ErrCodeInvalidCommand,
			Message: fmt.Sprintf("cannot set %q", c.Field),
			View:    v.name,
			RowID:   c.ID,
			Err:     err,
		}
	}
}

// AddRow appends a single row, as the "add schedule" flow does.
type AddRow struct {
	Row ir.Row
}

func (AddRow) commandName() string { return "add_row" }

func (c AddRow) apply(ctx context.Context, e *Engine, v *view) error {
	rows, err := e.prepareRows(v.name, []ir.Row{c.Row})
	if err != nil {
		return err
	}
	row := rows[0]
	if err := v.table.AddRow(ctx, row); err != nil {
		if errors.Is(err, store.ErrDuplicateRow) {
			return &RuntimeError{
				Code:    ErrCodeDuplicateRow,
				Message: "row id already exists",
				View:    v.name,
				RowID:   row.ID,
				Err:     err,
			}
		}
		return invalidCommandError(v.name, err)
	}

	slog.Info("row added", "view", v.name, "row", row.ID)
	return nil
}

// VerifyRows applies verification service results to the whole table.
type VerifyRows struct {
	Results []VerificationResult
}

func (VerifyRows) commandName() string { return "verify_rows" }

func (c VerifyRows) apply(ctx context.Context, e *Engine, v *view) error {
	for i := range c.Results {
		if err := e.validate.Struct(c.Results[i]); err != nil {
			return invalidCommandError(v.name, fmt.Errorf("result %d: %w", i, err))
		}
	}

	var unmatched []string
	v.table.Update(ctx, func(rows []ir.Row) ([]ir.Row, bool) {
		if len(rows) == 0 {
			return nil, false
		}
		next, missing := ApplyVerification(c.Results, rows)
		for _, id := range missing {
			for _, r := range rows {
				if r.ID == id {
					unmatched = append(unmatched, r.AccountID)
					break
				}
			}
		}
		return next, true
	})

	for _, account := range unmatched {
		e.notice(ctx, v, "❌ No verification match found for ad_account_id: "+account)
	}
	slog.Info("verification applied",
		"view", v.name,
		"results", len(c.Results),
		"unmatched", len(unmatched),
	)
	return nil
}

// RecordOutcome applies the result of an outbound call to the rows it
// targeted.
type RecordOutcome struct {
	Outcome Outcome
}

func (RecordOutcome) commandName() string { return "record_outcome" }

func (c RecordOutcome) apply(ctx context.Context, e *Engine, v *view) error {
	if err := e.validate.Struct(c.Outcome); err != nil {
		return invalidCommandError(v.name, err)
	}
	f := OutcomeFact(c.Outcome, v.topic, e.now().In(e.loc))
	f.Subject = v.subject

	e.applyFacts(ctx, v, []ir.Fact{f})
	return nil
}

// ClearMessages empties the message log.
type ClearMessages struct{}

func (ClearMessages) commandName() string { return "clear_messages" }

func (ClearMessages) apply(ctx context.Context, _ *Engine, v *view) error {
	v.table.ClearMessages(ctx)
	v.memory = parser.MapMemory{}
	slog.Info("message log cleared", "view", v.name)
	return nil
}

// prepareRows validates rows and fills in ids and default status.
func (e *Engine) prepareRows(viewName string, rows []ir.Row) ([]ir.Row, error) {
	out := make([]ir.Row, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for i, row := range rows {
		row = row.Clone()
		if row.ID == "" {
			row.ID = e.newID()
		}
		if row.Status == "" {
			row.Status = StatusReady
		}
		if row.Fields == nil {
			row.Fields = map[string]string{}
		}
		if err := e.validate.Struct(row); err != nil {
			return nil, invalidCommandError(viewName, fmt.Errorf("row %d: %w", i, err))
		}
		if _, dup := seen[row.ID]; dup {
			return nil, &RuntimeError{
				Code:    ErrCodeDuplicateRow,
				Message: "row id appears more than once",
				View:    viewName,
				RowID:   row.ID,
			}
		}
		seen[row.ID] = struct{}{}
		out[i] = row
	}
	return out, nil
}
