package seeker

import (
	"errors"
	"fmt"
	"time"
)

// ErrCancelled marks a run stopped by Stop or context cancellation. Run
// records it as the CANCELLED state and never returns it.
var ErrCancelled = errors.New("seeker cancelled")

// InitializationError means the browser session could not be acquired.
type InitializationError struct {
	Cause error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("browser initialization failed: %v", e.Cause)
}

func (e *InitializationError) Unwrap() error {
	return e.Cause
}

// LoginTimeoutError means the user did not complete login in time.
type LoginTimeoutError struct {
	Site    string
	Timeout time.Duration
}

func (e *LoginTimeoutError) Error() string {
	return fmt.Sprintf("%s login not completed within %s", e.Site, e.Timeout)
}

// SearchError is a failure scoped to one keyword/city pair.
type SearchError struct {
	Keyword string
	City    string
	Cause   error
}

func (e *SearchError) Error() string {
	if e.City == "" {
		return fmt.Sprintf("search %q failed: %v", e.Keyword, e.Cause)
	}
	return fmt.Sprintf("search %q in %s failed: %v", e.Keyword, e.City, e.Cause)
}

func (e *SearchError) Unwrap() error {
	return e.Cause
}

// ApplyError is a failure scoped to one job.
type ApplyError struct {
	Company string
	Title   string
	Cause   error
}

func (e *ApplyError) Error() string {
	if e.Company == "" && e.Title == "" {
		return fmt.Sprintf("job failed: %v", e.Cause)
	}
	return fmt.Sprintf("job %s - %s failed: %v", e.Company, e.Title, e.Cause)
}

func (e *ApplyError) Unwrap() error {
	return e.Cause
}
