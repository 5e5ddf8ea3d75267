package profile

import (
	"fmt"

	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Error codes for profile loading.
const (
	ErrCodeNotFound    = "P001" // Profiles directory missing
	ErrCodeScan        = "P002" // Directory scan failed
	ErrCodeBuildFailed = "P003" // CUE compile or schema unification failed
	ErrCodeInvalid     = "P004" // Profile content invalid
)

// LoadError describes a profile that failed to load.
type LoadError struct {
	Code    string
	Field   string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	code := e.Code
	if code == "" {
		code = ErrCodeInvalid
	}
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), code, e.Message)
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", code, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", code, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &LoadError{Code: ErrCodeBuildFailed, Message: err.Error()}
	}

	first := errs[0]
	loadErr := &LoadError{Code: ErrCodeBuildFailed, Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		loadErr.Pos = positions[0]
	}
	return loadErr
}
