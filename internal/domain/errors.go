// Package domain provides shared domain-level sentinel errors.
package domain

import (
	"errors"
	"fmt"
)

// ErrMissingField indicates a required request field is absent or blank.
// It is always surfaced as a 400 and checked before any upstream work.
var ErrMissingField = errors.New("missing required field")

// ErrTransport indicates a network or decode failure talking to the
// upstream agent API or the credential endpoint.
var ErrTransport = errors.New("transport failure")

// ErrCredential indicates the token request failed or the response
// carried no token. Callers surface it the same way as ErrTransport.
var ErrCredential = errors.New("credential acquisition failed")

// ErrRunTimedOut indicates the poll loop exhausted its attempt budget
// before the run reached a terminal status.
var ErrRunTimedOut = errors.New("run timed out")

// ErrTurnInFlight indicates a turn was attempted while a prior turn on
// the same session had not finished.
var ErrTurnInFlight = errors.New("turn already in flight")

// UpstreamError carries the HTTP status of a non-2xx upstream response.
// The upstream body and headers are never retained.
type UpstreamError struct {
	Status int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error %d", e.Status)
}

// MissingField wraps ErrMissingField with the offending field name.
func MissingField(name string) error {
	return fmt.Errorf("%w: %s", ErrMissingField, name)
}
