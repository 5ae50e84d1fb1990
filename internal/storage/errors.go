// internal/storage/errors.go
package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a record id does not exist.
var ErrNotFound = errors.New("record not found")

// ValidationError rejects a mutation before any state change: constraint
// violations, bad references, out-of-range fields.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// NewValidationError constructs a ValidationError for a single field.
func NewValidationError(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
