// Package errors provides a lightweight OperationError for wrapping
// lower-level failures with an operation name and a retryability hint,
// independent of the AppError taxonomy in internal/errors (which is for
// the taxonomy surfaced to job records and API boundaries). This package is
// for ambient "what were we doing when this failed" context used in logs.
package errors

import (
	"errors"
	"fmt"
)

// OperationError wraps an error with the name of the operation that failed
// and whether retrying it is expected to help.
type OperationError struct {
	Operation string
	Err       error
	Retryable bool
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// FailedTo wraps err as a non-retryable OperationError for the given
// operation description.
func FailedTo(operation string, err error) *OperationError {
	return &OperationError{Operation: operation, Err: err, Retryable: false}
}

// FailedToRetryable is FailedTo but marks the error retryable.
func FailedToRetryable(operation string, err error) *OperationError {
	return &OperationError{Operation: operation, Err: err, Retryable: true}
}

// Wrapf formats a message and wraps err with it, preserving Unwrap.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(fmt.Sprintf(format, args...)+": %w", err)
}

// DatabaseError marks a database-layer failure; always retryable at the
// caller's discretion since most are transient (connection resets, deadlocks).
func DatabaseError(query string, err error) *OperationError {
	return &OperationError{Operation: "database query: " + query, Err: err, Retryable: true}
}

// NetworkError marks a network-layer failure as retryable.
func NetworkError(target string, err error) *OperationError {
	return &OperationError{Operation: "network call: " + target, Err: err, Retryable: true}
}

// ValidationError marks input validation failure as non-retryable.
func ValidationError(field string, err error) *OperationError {
	return &OperationError{Operation: "validate " + field, Err: err, Retryable: false}
}

// ConfigurationError marks a configuration problem as non-retryable.
func ConfigurationError(key string, err error) *OperationError {
	return &OperationError{Operation: "configuration: " + key, Err: err, Retryable: false}
}

// TimeoutError marks a deadline failure as retryable.
func TimeoutError(operation string, err error) *OperationError {
	return &OperationError{Operation: operation + " (timeout)", Err: err, Retryable: true}
}

// AuthenticationError marks a credential failure as non-retryable.
func AuthenticationError(provider string, err error) *OperationError {
	return &OperationError{Operation: "authenticate with " + provider, Err: err, Retryable: false}
}

// AuthorizationError marks a permission failure as non-retryable.
func AuthorizationError(resource string, err error) *OperationError {
	return &OperationError{Operation: "authorize access to " + resource, Err: err, Retryable: false}
}

// ParseError marks a decode/unmarshal failure as non-retryable.
func ParseError(format string, err error) *OperationError {
	return &OperationError{Operation: "parse " + format, Err: err, Retryable: false}
}

// IsRetryable reports whether err (or the nearest OperationError it wraps)
// was marked retryable. Errors that aren't an OperationError default to
// false — callers must opt a path into retry explicitly.
func IsRetryable(err error) bool {
	var oe *OperationError
	if errors.As(err, &oe) {
		return oe.Retryable
	}
	return false
}

// Chain joins non-nil errors into one, preserving the first as the
// %w-unwrappable cause.
func Chain(errs ...error) error {
	var first error
	var msgs []string
	for _, e := range errs {
		if e == nil {
			continue
		}
		if first == nil {
			first = e
		}
		msgs = append(msgs, e.Error())
	}
	if first == nil {
		return nil
	}
	if len(msgs) == 1 {
		return first
	}
	joined := msgs[0]
	for _, m := range msgs[1:] {
		joined += " -> " + m
	}
	return fmt.Errorf("%s: %w", joined, first)
}
