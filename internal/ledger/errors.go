package ledger

import "fmt"

// Error represents a ledger persistence failure
type Error struct {
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ledger %s: %s: %v", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("ledger %s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}
