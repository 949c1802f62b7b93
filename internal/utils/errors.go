package utils

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline errors by handling policy: validation failures stop
// at the call boundary, not-found conditions are caller-recoverable, internal
// errors are surfaced as-is.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindInternal   Kind = "internal"
)

// AppError wraps an operation, human-facing message, and underlying error.
type AppError struct {
	Op   string
	Kind Kind
	Msg  string
	Err  error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an internal AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Kind: KindInternal, Msg: msg, Err: err}
}

// ValidationError constructs an AppError for malformed or unrecognised input.
func ValidationError(op, format string, args ...interface{}) error {
	return &AppError{Op: op, Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError constructs an AppError for a missing entity.
func NotFoundError(op, format string, args ...interface{}) error {
	return &AppError{Op: op, Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the error kind, defaulting to KindInternal.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }
