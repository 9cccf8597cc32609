package links

import "errors"

// ErrNotFound is returned when no tracking link matches an id or code.
var ErrNotFound = errors.New("tracking link not found")

// ValidationError represents a validation error
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
