package browser

import (
	"errors"
	"fmt"
)

// ErrNotStarted is returned by drivers used before Start or after CloseBrowser.
var ErrNotStarted = errors.New("browser not started")

// ErrNotFound is returned when a selector matches nothing.
var ErrNotFound = errors.New("element not found")

// ActionError is the final failure of a retried browser action.
type ActionError struct {
	Action   string
	Selector string
	Attempts int
	Cause    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s %q failed after %d attempt(s): %v", e.Action, e.Selector, e.Attempts, e.Cause)
}

func (e *ActionError) Unwrap() error {
	return e.Cause
}

// DriverError reports driver construction and lifecycle failures.
type DriverError struct {
	Message string
	Cause   error
}

func (e *DriverError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *DriverError) Unwrap() error {
	return e.Cause
}
