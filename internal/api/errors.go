package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes carried in Envelope.Errors.
const (
	CodeOpenSessionExists = "OPEN_SESSION_EXISTS"
	CodeValidation        = "VALIDATION_ERROR"
	CodePersonNotFound    = "PERSON_NOT_FOUND"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodePayloadTooLarge   = "PAYLOAD_TOO_LARGE"
	CodeInternal          = "INTERNAL_ERROR"

	// CodeUnexpectedResponse is set by the client, never by the server:
	// a 2xx answer that is not a success envelope.
	CodeUnexpectedResponse = "UNEXPECTED_RESPONSE"
)

// Error is a failed call to the server.
//
// Status is the HTTP status, or 0 when no response was received.
// Code and Message come from the response envelope when present; a
// response with no envelope (e.g. an unrouted path) has an empty Code.
type Error struct {
	Status  int
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Status == 0 && e.Err != nil:
		return fmt.Sprintf("network error: %v", e.Err)
	case e.Code != "":
		return fmt.Sprintf("%s: %s (http %d)", e.Code, e.Message, e.Status)
	default:
		return fmt.Sprintf("http %d: %s", e.Status, e.Message)
	}
}

// Unwrap returns the underlying transport error.
func (e *Error) Unwrap() error {
	return e.Err
}

func asError(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsUnauthorized reports whether err is an HTTP 401.
func IsUnauthorized(err error) bool {
	ae, ok := asError(err)
	return ok && ae.Status == http.StatusUnauthorized
}

// IsNotFound reports whether err is an HTTP 404.
func IsNotFound(err error) bool {
	ae, ok := asError(err)
	return ok && ae.Status == http.StatusNotFound
}

// IsEndpointUnavailable reports whether the server does not offer the
// endpoint at all: 404, 405 or 501 without an application error code.
func IsEndpointUnavailable(err error) bool {
	ae, ok := asError(err)
	if !ok || ae.Code != "" {
		return false
	}
	switch ae.Status {
	case http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusNotImplemented:
		return true
	default:
		return false
	}
}

// IsRejection reports whether the server understood the request and
// refused it on semantic grounds. Retrying a rejection cannot succeed.
func IsRejection(err error) bool {
	ae, ok := asError(err)
	if !ok || ae.Code == "" {
		return false
	}
	return ae.Status >= 400 && ae.Status < 500 &&
		ae.Status != http.StatusUnauthorized &&
		ae.Status != http.StatusRequestTimeout &&
		ae.Status != http.StatusTooManyRequests
}

// IsTransient reports whether err is worth retrying: no response, a
// timeout, rate limiting, a 5xx other than 501, or a 2xx that was not a
// success envelope.
func IsTransient(err error) bool {
	ae, ok := asError(err)
	if !ok {
		return false
	}
	switch {
	case ae.Status == 0, ae.Code == CodeUnexpectedResponse:
		return true
	case ae.Status == http.StatusRequestTimeout, ae.Status == http.StatusTooManyRequests:
		return true
	case ae.Status == http.StatusNotImplemented:
		return false
	case ae.Status >= 500:
		return true
	default:
		return false
	}
}

// HasCode reports whether err carries the given application error code.
func HasCode(err error, code string) bool {
	ae, ok := asError(err)
	return ok && ae.Code == code
}
