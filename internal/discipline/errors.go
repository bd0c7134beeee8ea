package discipline

import (
	"errors"
	"fmt"
)

// Code classifies a discipline failure for callers and transports.
type Code string

const (
	CodeValidation       Code = "VALIDATION_ERROR"
	CodeMaxReached       Code = "MAX_REACHED"
	CodeUnauthenticated  Code = "UNAUTHENTICATED"
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"
	CodeNotFound         Code = "NOT_FOUND"
)

// Error is a coded discipline error. Two Errors match under errors.Is when
// their codes are equal.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrValidation       = &Error{Code: CodeValidation, Message: "invalid input"}
	ErrMaxReached       = &Error{Code: CodeMaxReached, Message: "daily trade limit reached"}
	ErrUnauthenticated  = &Error{Code: CodeUnauthenticated, Message: "no authenticated user"}
	ErrStoreUnavailable = &Error{Code: CodeStoreUnavailable, Message: "discipline store unavailable"}
	ErrNotFound         = &Error{Code: CodeNotFound, Message: "record not found"}
)

func validationError(format string, args ...interface{}) error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// storeError wraps a backend failure. Coded errors raised by the store itself
// (such as ErrMaxReached) pass through unchanged.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var coded *Error
	if errors.As(err, &coded) {
		return err
	}
	return &Error{Code: CodeStoreUnavailable, Message: op + " failed", Err: err}
}

// CodeOf extracts the code of err, or "" for uncoded errors.
func CodeOf(err error) Code {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}
