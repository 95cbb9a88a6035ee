package store

import "fmt"

// NotFoundError indicates a Memory id had no matching row.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("memory not found: %s", e.ID)
}

// ValidationError indicates a caller-supplied Input/Fields value was
// malformed (spec §3 invariant violations surface as fatal per §4.1's
// "Failure" clause, but validation issues caught before hitting the
// database are reported as ValidationError so callers can distinguish
// programmer error from storage failure).
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}
