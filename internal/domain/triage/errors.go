package triage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the requested item or attempt does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState means the operation is not permitted in the item's
	// current lifecycle state, e.g. logging an attempt on a closed item.
	ErrInvalidState = errors.New("invalid state")

	// ErrConflict means a concurrent write violated the open-item
	// uniqueness constraint. Callers retry the operation once.
	ErrConflict = errors.New("storage conflict")
)

// ValidationError reports malformed or out-of-range input. It is always
// surfaced before any mutation.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
