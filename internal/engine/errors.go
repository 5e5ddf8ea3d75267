package engine

import (
	"errors"
	"fmt"
)

// RuntimeError reports a command or event the engine refused to apply.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// View names the affected view, when known.
	View string

	// RowID identifies the affected row, when known.
	RowID string

	// Err is the underlying cause.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeUnknownView indicates an event addressed a view that is not configured.
	ErrCodeUnknownView RuntimeErrorCode = "UNKNOWN_VIEW"

	// ErrCodeInvalidCommand indicates a command failed validation.
	ErrCodeInvalidCommand RuntimeErrorCode = "INVALID_COMMAND"

	// ErrCodeRowNotFound indicates an edit referenced a row id that does not exist.
	ErrCodeRowNotFound RuntimeErrorCode = "ROW_NOT_FOUND"

	// ErrCodeDuplicateRow indicates a row id is already taken.
	ErrCodeDuplicateRow RuntimeErrorCode = "DUPLICATE_ROW"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.View != "" && e.RowID != "" {
		msg = fmt.Sprintf("%s (view=%s, row=%s)", msg, e.View, e.RowID)
	} else if e.View != "" {
		msg = fmt.Sprintf("%s (view=%s)", msg, e.View)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsUnknownViewError reports whether err names an unconfigured view.
func IsUnknownViewError(err error) bool {
	return hasCode(err, ErrCodeUnknownView)
}

// IsNotFoundError reports whether err names a missing row.
func IsNotFoundError(err error) bool {
	return hasCode(err, ErrCodeRowNotFound)
}

// IsInvalidError reports whether err is a validation or conflict failure.
func IsInvalidError(err error) bool {
	return hasCode(err, ErrCodeInvalidCommand) || hasCode(err, ErrCodeDuplicateRow)
}

func unknownViewError(view string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeUnknownView,
		Message: "view is not configured",
		View:    view,
	}
}

func invalidCommandError(view string, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeInvalidCommand,
		Message: "command rejected",
		View:    view,
		Err:     err,
	}
}
