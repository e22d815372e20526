// Package hwerr defines the result taxonomy shared by every layer of the
// camera hardware session stack.
//
// All operations return an error instead of panicking. Callers inspect the
// code with [CodeOf] or [errors.As] before touching output values.
package hwerr

import (
	"errors"
	"fmt"
)

// Code identifies the class of a failure.
type Code string

// Result codes.
const (
	InvalidArgument Code = "INVALID_ARGUMENT"
	NoMemory        Code = "NO_MEMORY"
	NoMore          Code = "NO_MORE"
	OutOfBounds     Code = "OUT_OF_BOUNDS"
	Timeout         Code = "TIMEOUT"
	Failed          Code = "FAILED"
	SizeMismatch    Code = "SIZE_MISMATCH"
	InvalidState    Code = "INVALID_STATE"
	NotFound        Code = "NOT_FOUND"
	Busy            Code = "BUSY"
	Unsupported     Code = "UNSUPPORTED"
)

// Error carries a result code, a message and an optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// New creates an error with the given code.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error with the given code around cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HasCode checks if the error matches a specific code.
func (e *Error) HasCode(code Code) bool {
	return e.Code == code
}

// Is reports whether target is an *Error with the same code, so that
// errors.Is(err, hwerr.New(hwerr.Busy, "")) matches any Busy error.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code of the first *Error in err's chain.
// A nil error yields "" and a foreign error yields Failed.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Failed
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
