// Package api implements the typed HTTP client the sync engine uses to
// talk to the invoicing server. Errors carry a retryable/terminal
// classification so callers never need to distinguish a timeout from a
// DNS failure.
package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a non-2xx server response. Network-level failures are
// returned as-is (wrapped), not as *Error, and count as retryable.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("server returned %d", e.StatusCode)
}

// Terminal reports whether retrying the same request can never
// succeed: authentication failures, permission denials and uniqueness
// conflicts. Everything else (5xx, timeouts, network errors) is
// retryable.
func (e *Error) Terminal() bool {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusConflict:
		return true
	}
	return false
}

// IsTerminal reports whether err is a terminal server rejection.
func IsTerminal(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Terminal()
}

// IsConflict reports whether err is a 409 uniqueness violation.
func IsConflict(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// IsUnauthorized reports whether err is a 401. Callers must treat it
// as a session-invalidation signal, never retry it.
func IsUnauthorized(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}
