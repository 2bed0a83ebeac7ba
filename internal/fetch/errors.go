package fetch

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest marks a request that could not be built. Retrying it
// cannot help.
var ErrInvalidRequest = errors.New("invalid request")

// FatalError signals a credential or plan failure; the whole run must stop.
type FatalError struct {
	StatusCode int
	Entity     string
	Dataset    string
	Message    string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal provider response %d for %s/%s: %s", e.StatusCode, e.Dataset, e.Entity, e.Message)
}

// Error is a terminal, non-fatal fetch failure.
type Error struct {
	Class      Class
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Class, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}
