// Package transport defines the error boundary shared by the request and
// stream transports.
//
// Two disjoint error classes exist. Transport errors (connection refused,
// timeout, malformed response) are returned as *Error values. Application
// errors are never returned by a transport: they travel as data in
// types.Envelope.Errors and the caller decides what to do with them.
package transport

import (
	"errors"
	"fmt"
)

// Error is a transport-level failure.
type Error struct {
	// Op names the failed step, e.g. "send", "decode", "dial".
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap returns err as a transport error for step op. Nil stays nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// IsTransportError returns true if err is or wraps a transport error.
func IsTransportError(err error) bool {
	var te *Error
	return errors.As(err, &te)
}

// StatusError is returned for non-2xx HTTP responses whose body is not a
// GraphQL envelope.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}
