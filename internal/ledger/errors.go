package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks request-shape or business-rule violations. Nothing was written.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a company, shareholder, share class or allocation that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks an entity that exists but is not in the required state,
	// or a concurrent writer that won the race. Callers may re-read and retry.
	ErrConflict = errors.New("conflict")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFound(entity, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, entity, id)
}

func conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// outcome labels an error for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
