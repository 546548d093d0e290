package ingest

import (
	"errors"
	"fmt"
)

// RejectionCode categorizes semantic rejections.
type RejectionCode string

const (
	// CodeOpenSessionExists: an Entry was submitted while the person is Inside.
	CodeOpenSessionExists RejectionCode = "OPEN_SESSION_EXISTS"

	// CodeValidation: the request is malformed or incomplete.
	CodeValidation RejectionCode = "VALIDATION_ERROR"

	// CodePersonNotFound: the referenced person does not exist.
	CodePersonNotFound RejectionCode = "PERSON_NOT_FOUND"
)

// RejectionError is a request the service understood and refused.
// Retrying it unchanged will be refused again.
type RejectionError struct {
	Code    RejectionCode
	Message string
}

// Error implements the error interface.
func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func reject(code RejectionCode, format string, args ...any) *RejectionError {
	return &RejectionError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsRejection returns the RejectionError inside err, if any.
func AsRejection(err error) (*RejectionError, bool) {
	var re *RejectionError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsOpenSessionError reports whether err is an OPEN_SESSION_EXISTS rejection.
func IsOpenSessionError(err error) bool {
	re, ok := AsRejection(err)
	return ok && re.Code == CodeOpenSessionExists
}

// IsValidationError reports whether err is a VALIDATION_ERROR rejection.
func IsValidationError(err error) bool {
	re, ok := AsRejection(err)
	return ok && re.Code == CodeValidation
}

// IsPersonNotFound reports whether err is a PERSON_NOT_FOUND rejection.
func IsPersonNotFound(err error) bool {
	re, ok := AsRejection(err)
	return ok && re.Code == CodePersonNotFound
}
