package endpoint

import "errors"

// ErrNotFound is returned when an endpoint does not exist.
var ErrNotFound = errors.New("courier: endpoint not found")

// ValidationError indicates invalid endpoint input or an unsafe URL.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "endpoint validation: " + e.Field + ": " + e.Message
}
