// Package server is the HTTP control API: start, stop and watch seeker runs
// and manage the submission ledger.
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jonathan/job-pilot/internal/runner"
)

// ErrInvalidCredentials indicates a wrong operator password.
type ErrInvalidCredentials struct{}

func (e *ErrInvalidCredentials) Error() string {
	return "invalid password"
}

// ErrValidation indicates request validation failure.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ErrUnknownSite is returned for a site name no seeker exists for.
type ErrUnknownSite struct {
	Site string
}

func (e *ErrUnknownSite) Error() string {
	return fmt.Sprintf("unknown site: %s", e.Site)
}

// HTTPStatus returns the appropriate HTTP status code for an error.
func HTTPStatus(err error) int {
	var (
		credentials *ErrInvalidCredentials
		validation  *ErrValidation
		unknownSite *ErrUnknownSite
	)
	switch {
	case errors.As(err, &credentials):
		return http.StatusUnauthorized
	case errors.As(err, &validation), errors.Is(err, runner.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.As(err, &unknownSite), errors.Is(err, runner.ErrUnknownSite):
		return http.StatusNotFound
	case errors.Is(err, runner.ErrAlreadyRunning), errors.Is(err, runner.ErrNotRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
