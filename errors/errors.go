// Package errors provides the proxy's internal error type.
//
// It is a trimmed descendant of the teacher's errors package: same
// Code/Message/WrappedErr shape and the same Is/As/Unwrap support, but
// without the gRPC status/protobuf bridging that package carries for its
// internal service mesh — this proxy has no gRPC surface to bridge to.
package errors

import (
	"errors"
	"fmt"
)

// ERR identifies the broad class of an internal error.
type ERR int32

const (
	ERR_UNKNOWN ERR = iota
	ERR_CONFIGURATION
	ERR_INVALID_ARGUMENT
	ERR_NOT_FOUND
	ERR_PROCESSING
	ERR_SERVICE_UNAVAILABLE
)

func (c ERR) String() string {
	switch c {
	case ERR_CONFIGURATION:
		return "CONFIGURATION"
	case ERR_INVALID_ARGUMENT:
		return "INVALID_ARGUMENT"
	case ERR_NOT_FOUND:
		return "NOT_FOUND"
	case ERR_PROCESSING:
		return "PROCESSING"
	case ERR_SERVICE_UNAVAILABLE:
		return "SERVICE_UNAVAILABLE"
	default:
		return "UNKNOWN"
	}
}

// Error is the proxy's internal error type: a code, a message, and an
// optional wrapped cause.
type Error struct {
	code       ERR
	message    string
	wrappedErr error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.wrappedErr == nil {
		return fmt.Sprintf("%s: %s", e.code, e.message)
	}

	return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.wrappedErr)
}

// Code returns the error's class.
func (e *Error) Code() ERR { return e.code }

// Message returns the error's formatted message, without the wrapped cause.
func (e *Error) Message() string { return e.message }

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.wrappedErr
}

func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}

	var other *Error
	if errors.As(target, &other) {
		return e.code == other.code
	}

	return false
}

func (e *Error) As(target interface{}) bool {
	if e == nil {
		return false
	}

	if t, ok := target.(**Error); ok {
		*t = e
		return true
	}

	if e.wrappedErr != nil {
		return errors.As(e.wrappedErr, target)
	}

	return false
}

func newError(code ERR, wrapped error, format string, args ...interface{}) *Error {
	return &Error{
		code:       code,
		message:    fmt.Sprintf(format, args...),
		wrappedErr: wrapped,
	}
}

// NewConfigurationError wraps a configuration-loading failure.
func NewConfigurationError(format string, args ...interface{}) *Error {
	return newErrorSplitCause(ERR_CONFIGURATION, format, args...)
}

// NewInvalidArgumentError wraps a caller-supplied value that fails validation.
func NewInvalidArgumentError(format string, args ...interface{}) *Error {
	return newErrorSplitCause(ERR_INVALID_ARGUMENT, format, args...)
}

// NewNotFoundError wraps a lookup that found nothing.
func NewNotFoundError(format string, args ...interface{}) *Error {
	return newErrorSplitCause(ERR_NOT_FOUND, format, args...)
}

// NewProcessingError wraps a failure encountered while processing a request.
func NewProcessingError(format string, args ...interface{}) *Error {
	return newErrorSplitCause(ERR_PROCESSING, format, args...)
}

// NewServiceUnavailableError wraps an upstream or peer dependency being unreachable.
func NewServiceUnavailableError(format string, args ...interface{}) *Error {
	return newErrorSplitCause(ERR_SERVICE_UNAVAILABLE, format, args...)
}

// NewUnknownError wraps an error that doesn't fit any other category.
func NewUnknownError(format string, args ...interface{}) *Error {
	return newErrorSplitCause(ERR_UNKNOWN, format, args...)
}

// newErrorSplitCause formats message from format/args, pulling a trailing
// error argument out as the wrapped cause if one was given — matching the
// teacher's errors.New(code, msg, params...) convention.
func newErrorSplitCause(code ERR, format string, args ...interface{}) *Error {
	var wrapped error

	if n := len(args); n > 0 {
		if err, ok := args[n-1].(error); ok {
			wrapped = err
			args = args[:n-1]
		}
	}

	return newError(code, wrapped, format, args...)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain matching target's type.
func As(err error, target interface{}) bool { return errors.As(err, target) }

// New is a passthrough to the standard library for plain, uncoded errors.
func New(text string) error { return errors.New(text) }
