package repository

import (
	"errors"
	"fmt"
)

// ErrorCode classifies the failures callers are expected to branch on. Raw
// storage failures are not classified; they propagate wrapped.
type ErrorCode string

const (
	// InvalidArgument: a required identifying field is missing or malformed.
	// Checked before any storage access.
	InvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ValidationError: an entity attribute fails a domain constraint.
	ValidationError ErrorCode = "VALIDATION_ERROR"
	// NotFound: the referenced chat or message does not exist, or fails an
	// ownership check.
	NotFound ErrorCode = "NOT_FOUND"
)

// Error is a classified repository failure.
type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("repository: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("repository: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

func hasCode(err error, code ErrorCode) bool {
	var repoErr *Error
	return errors.As(err, &repoErr) && repoErr.Code == code
}

// IsInvalidArgument reports whether err carries the InvalidArgument code.
func IsInvalidArgument(err error) bool {
	return hasCode(err, InvalidArgument)
}

// IsValidation reports whether err carries the ValidationError code.
func IsValidation(err error) bool {
	return hasCode(err, ValidationError)
}

// IsNotFound reports whether err carries the NotFound code.
func IsNotFound(err error) bool {
	return hasCode(err, NotFound)
}
