package services

import (
	"errors"
	"fmt"

	"github.com/recipebook/apiserver/internal/store"
)

var (
	// ErrNotFound is returned when an entity does not exist or belongs to
	// another user. The two cases are indistinguishable to callers.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write collides with an existing
	// record, e.g. renaming a tag onto a name the owner already uses.
	ErrConflict = errors.New("conflict")

	// ErrPrecondition signals a broken upstream invariant, such as a
	// reconciliation run without a valid owner. It is not user-recoverable.
	ErrPrecondition = errors.New("precondition violated")

	// ErrInvalidCredentials is returned when authentication fails.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrValidation matches every *ValidationError via errors.Is.
	ErrValidation = errors.New("validation failed")
)

// ValidationError reports malformed client input for a single field.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func preconditionf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPrecondition, fmt.Sprintf(format, args...))
}

// translate maps store sentinels onto service sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrDuplicate):
		return ErrConflict
	case errors.Is(err, store.ErrUnknownKind):
		return fmt.Errorf("%w: %v", ErrPrecondition, err)
	}
	return err
}
