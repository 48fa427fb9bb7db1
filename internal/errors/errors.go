// Package errors provides the core's structured error taxonomy: an AppError
// that carries a stable ErrorType, an HTTP-shaped status code the (external)
// boundary may use for its own response mapping, and optional free-form
// details for logs. Every error raised by the core's components is expected
// to resolve to one of these types; unmapped/ambiguous failures default to
// ErrorTypeInternal and are always logged with their cause.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType is the stable taxonomy from spec §7.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeDatabase   ErrorType = "database"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeRateLimit  ErrorType = "rate_limit"

	// Domain-specific additions beyond the teacher's generic taxonomy,
	// one per §7 error kind that isn't already covered above.
	ErrorTypeEngine   ErrorType = "engine"   // EngineTimeout / EngineCrashed
	ErrorTypeProvider ErrorType = "provider" // ProviderRateLimit / ProviderTimeout / ProviderAuth / ProviderBadRequest / ProviderServerError
	ErrorTypeBudget   ErrorType = "budget"   // CostLimitExceeded
	ErrorTypeCancelled ErrorType = "cancelled"
)

var statusByType = map[ErrorType]int{
	ErrorTypeValidation: http.StatusBadRequest,
	ErrorTypeAuth:       http.StatusUnauthorized,
	ErrorTypeNotFound:   http.StatusNotFound,
	ErrorTypeConflict:   http.StatusConflict,
	ErrorTypeTimeout:    http.StatusRequestTimeout,
	ErrorTypeRateLimit:  http.StatusTooManyRequests,
	ErrorTypeDatabase:   http.StatusInternalServerError,
	ErrorTypeNetwork:    http.StatusInternalServerError,
	ErrorTypeInternal:   http.StatusInternalServerError,
	ErrorTypeEngine:     http.StatusInternalServerError,
	ErrorTypeProvider:   http.StatusBadGateway,
	ErrorTypeBudget:     http.StatusPaymentRequired,
	ErrorTypeCancelled:  http.StatusGone,
}

// AppError is the core's structured error value.
type AppError struct {
	Type       ErrorType
	Message    string
	Details    string
	StatusCode int
	Cause      error

	// Code is the stable machine-readable string the job manager persists
	// in domain.JobError.Code (e.g. "engine_extraction_invalid").
	Code string
}

func (e *AppError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Details != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Details)
	}
	return msg
}

func (e *AppError) Unwrap() error { return e.Cause }

// WithDetails attaches free-form context, modifying e in place.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithDetailsf is WithDetails with fmt.Sprintf formatting.
func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// WithCode attaches the stable machine-readable error code.
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// New creates an AppError of the given type with its mapped status code.
func New(t ErrorType, message string) *AppError {
	return &AppError{Type: t, Message: message, StatusCode: statusFor(t)}
}

// Wrap creates an AppError of the given type wrapping cause.
func Wrap(cause error, t ErrorType, message string) *AppError {
	return &AppError{Type: t, Message: message, StatusCode: statusFor(t), Cause: cause}
}

// Wrapf is Wrap with fmt.Sprintf formatting of message.
func Wrapf(cause error, t ErrorType, format string, args ...interface{}) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

func statusFor(t ErrorType) int {
	if s, ok := statusByType[t]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Predefined constructors mirroring the most common call sites.

func NewValidationError(message string) *AppError { return New(ErrorTypeValidation, message) }

func NewDatabaseError(operation string, cause error) *AppError {
	return Wrap(cause, ErrorTypeDatabase, fmt.Sprintf("database operation failed: %s", operation))
}

func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource))
}

func NewAuthError(message string) *AppError { return New(ErrorTypeAuth, message) }

func NewTimeoutError(operation string) *AppError {
	return New(ErrorTypeTimeout, fmt.Sprintf("operation timed out: %s", operation))
}

func NewEngineError(kind, diagnostic string) *AppError {
	return New(ErrorTypeEngine, diagnostic).WithCode(kind)
}

func NewProviderError(kind, providerID, message string) *AppError {
	return New(ErrorTypeProvider, message).WithCode(kind).WithDetailsf("provider: %s", providerID)
}

func NewBudgetError(owner, providerID string) *AppError {
	return New(ErrorTypeBudget, "cost ceiling exceeded").
		WithCode("CostLimitExceeded").
		WithDetailsf("owner: %s, provider: %s", owner, providerID)
}

// IsType reports whether err (or anything it wraps) is an *AppError of type t.
func IsType(err error, t ErrorType) bool {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Type == t
	}
	return false
}

// GetType returns err's ErrorType, or ErrorTypeInternal if err is not an
// *AppError — the default-to-InternalError policy from spec §9.
func GetType(err error) ErrorType {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Type
	}
	return ErrorTypeInternal
}

// GetStatusCode returns err's mapped status code, defaulting to 500.
func GetStatusCode(err error) int {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	return http.StatusInternalServerError
}

// safeMessages are the user-visible strings for error types whose Message
// may contain internal diagnostic detail that shouldn't reach a caller.
var safeMessages = map[ErrorType]string{
	ErrorTypeNotFound:  "the requested resource was not found",
	ErrorTypeAuth:      "authentication failed",
	ErrorTypeTimeout:   "the operation timed out",
	ErrorTypeRateLimit: "rate limit exceeded",
	ErrorTypeConflict:  "the resource was modified concurrently",
	ErrorTypeDatabase:  "an internal error occurred",
}

// SafeErrorMessage returns a message safe to surface to an external caller:
// validation messages pass through verbatim (they describe caller input),
// everything else maps to a generic phrase so internals never leak.
func SafeErrorMessage(err error) string {
	var ae *AppError
	if !errors.As(err, &ae) {
		return "an unexpected error occurred"
	}
	if ae.Type == ErrorTypeValidation {
		return ae.Message
	}
	if msg, ok := safeMessages[ae.Type]; ok {
		return msg
	}
	return "an internal error occurred"
}

// LogFields renders err into a structured map suitable for a logger.
func LogFields(err error) map[string]interface{} {
	fields := map[string]interface{}{"error": err.Error()}
	var ae *AppError
	if !errors.As(err, &ae) {
		return fields
	}
	fields["error_type"] = string(ae.Type)
	fields["status_code"] = ae.StatusCode
	if ae.Details != "" {
		fields["error_details"] = ae.Details
	}
	if ae.Cause != nil {
		fields["underlying_error"] = ae.Cause.Error()
	}
	return fields
}

// Chain joins non-nil errors with " -> ", returning nil if all are nil and
// the single error unchanged if exactly one is non-nil.
func Chain(errs ...error) error {
	var nonNil []error
	for _, e := range errs {
		if e != nil {
			nonNil = append(nonNil, e)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	}
	parts := make([]string, len(nonNil))
	for i, e := range nonNil {
		parts[i] = e.Error()
	}
	return fmt.Errorf("%s", strings.Join(parts, " -> "))
}
