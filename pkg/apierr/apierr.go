// Package apierr describes non-success HTTP responses from third-party APIs.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

const maxBody = 512

// StatusError is returned when an API answers with an unexpected status.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Service, e.StatusCode, e.Body)
}

// Temporary reports whether the status is worth retrying later.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// New builds a StatusError, truncating long bodies.
func New(service string, status int, body []byte) *StatusError {
	b := string(body)
	if len(b) > maxBody {
		b = b[:maxBody] + "..."
	}
	return &StatusError{Service: service, StatusCode: status, Body: b}
}

// Status extracts the HTTP status from err, or 0 when err is not a StatusError.
func Status(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// IsTemporary reports whether err wraps a retryable StatusError.
func IsTemporary(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Temporary()
}
