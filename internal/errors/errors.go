// Package errors provides a structured application error type shared by
// every component of the triangulation pipeline, and maps the taxonomy of
// recoverable vs. terminal failures onto HTTP status codes for the
// operator API.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorType enumerates the pipeline's error taxonomy.
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

	// ErrorTypeTransientExternal covers LLM/cache/queue/store timeouts and
	// 5xx responses: recovered by bounded retry with backoff.
	ErrorTypeTransientExternal ErrorType = "transient_external"
	// ErrorTypeInvalidPayload covers malformed LLM JSON, missing required
	// fields, and non-whitelisted POI/relationship types.
	ErrorTypeInvalidPayload ErrorType = "invalid_payload"
	// ErrorTypeInvariantViolation covers received>expected, duplicate
	// reconcile dispatch, and missing expectation for a counted hash.
	ErrorTypeInvariantViolation ErrorType = "invariant_violation"
	// ErrorTypeFatalContract covers a missing cache key that Scout should
	// have seeded: a contract violation that fails the run.
	ErrorTypeFatalContract ErrorType = "fatal_contract"
)

// AppError is a structured error carrying enough context to log safely,
// report to an operator, and map to an HTTP status.
type AppError struct {
	Type       ErrorType
	Message    string
	Details    string
	Cause      error
	StatusCode int
}

func statusCodeFor(t ErrorType) int {
	switch t {
	case ErrorTypeValidation, ErrorTypeInvalidPayload:
		return http.StatusBadRequest
	case ErrorTypeAuth:
		return http.StatusUnauthorized
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeConflict, ErrorTypeInvariantViolation:
		return http.StatusConflict
	case ErrorTypeTimeout:
		return http.StatusRequestTimeout
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeDatabase, ErrorTypeNetwork, ErrorTypeInternal,
		ErrorTypeTransientExternal, ErrorTypeFatalContract:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// New creates an AppError of the given type.
func New(t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusCodeFor(t),
	}
}

// Newf creates an AppError with a formatted message.
func Newf(t ErrorType, format string, args ...any) *AppError {
	return New(t, fmt.Sprintf(format, args...))
}

// Wrap wraps an underlying error with pipeline error context.
func Wrap(cause error, t ErrorType, message string) *AppError {
	err := New(t, message)
	err.Cause = cause
	return err
}

// Wrapf wraps an underlying error with a formatted message.
func Wrapf(cause error, t ErrorType, format string, args ...any) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

// WithDetails attaches additional, non-sensitive detail, modifying the
// receiver in place and returning it for chaining.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithDetailsf attaches formatted detail.
func (e *AppError) WithDetailsf(format string, args ...any) *AppError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is/errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a validation error whose message is safe to
// surface verbatim to a caller.
func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message)
}

// NewDatabaseError wraps a database failure for operation op.
func NewDatabaseError(op string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeDatabase, "database operation failed: %s", op)
}

// NewNotFoundError reports a missing resource, e.g. a vanished source file.
func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource))
}

// NewAuthError reports an authentication failure.
func NewAuthError(message string) *AppError {
	return New(ErrorTypeAuth, message)
}

// NewTimeoutError reports an operation that exceeded its deadline.
func NewTimeoutError(op string) *AppError {
	return New(ErrorTypeTimeout, fmt.Sprintf("operation timed out: %s", op))
}

// NewInternal wraps an unexpected internal failure, e.g. a marshal error
// on a value the caller constructed itself.
func NewInternal(cause error) *AppError {
	return Wrap(cause, ErrorTypeInternal, "internal error")
}

// NewTransientError reports a recoverable external failure (LLM, cache,
// queue, relational/graph store).
func NewTransientError(op string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeTransientExternal, "transient failure: %s", op)
}

// NewInvalidPayloadError reports malformed LLM output or a non-whitelisted
// POI/relationship type.
func NewInvalidPayloadError(message string) *AppError {
	return New(ErrorTypeInvalidPayload, message)
}

// NewInvariantViolationError reports a violated pipeline invariant; these
// are dead-lettered without retry.
func NewInvariantViolationError(message string) *AppError {
	return New(ErrorTypeInvariantViolation, message)
}

// NewFatalContractError reports a missing precondition that Scout should
// have established; the run is marked failed.
func NewFatalContractError(message string) *AppError {
	return New(ErrorTypeFatalContract, message)
}

// IsType reports whether err is an *AppError of type t.
func IsType(err error, t ErrorType) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	return appErr.Type == t
}

// GetType returns the error's type, or ErrorTypeInternal for non-AppError
// values.
func GetType(err error) ErrorType {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// GetStatusCode returns the HTTP status code for err.
func GetStatusCode(err error) int {
	if appErr, ok := err.(*AppError); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// ErrorMessages holds operator-safe, generic messages keyed by scenario;
// these never leak internal detail.
var ErrorMessages = struct {
	ResourceNotFound        string
	AuthenticationFailed    string
	OperationTimeout        string
	RateLimitExceeded       string
	ConcurrentModification  string
}{
	ResourceNotFound:       "The requested resource was not found",
	AuthenticationFailed:   "Authentication failed",
	OperationTimeout:       "The operation timed out",
	RateLimitExceeded:      "Rate limit exceeded, please retry later",
	ConcurrentModification: "The resource was modified concurrently, please retry",
}

// SafeErrorMessage returns a message safe to return to an external caller:
// validation messages pass through (they describe caller-fixable input),
// everything else is genericized by type.
func SafeErrorMessage(err error) string {
	appErr, ok := err.(*AppError)
	if !ok {
		return "An unexpected error occurred"
	}
	switch appErr.Type {
	case ErrorTypeValidation, ErrorTypeInvalidPayload:
		return appErr.Message
	case ErrorTypeNotFound:
		return ErrorMessages.ResourceNotFound
	case ErrorTypeAuth:
		return ErrorMessages.AuthenticationFailed
	case ErrorTypeTimeout:
		return ErrorMessages.OperationTimeout
	case ErrorTypeRateLimit:
		return ErrorMessages.RateLimitExceeded
	case ErrorTypeConflict, ErrorTypeInvariantViolation:
		return ErrorMessages.ConcurrentModification
	default:
		return "An internal error occurred"
	}
}

// LogFields renders err as structured key/value pairs suitable for
// zap.Any-style logging call sites that don't want a hard zap dependency.
func LogFields(err error) map[string]any {
	fields := map[string]any{"error": err.Error()}

	appErr, ok := err.(*AppError)
	if !ok {
		return fields
	}

	fields["error_type"] = string(appErr.Type)
	fields["status_code"] = appErr.StatusCode
	if appErr.Details != "" {
		fields["error_details"] = appErr.Details
	}
	if appErr.Cause != nil {
		fields["underlying_error"] = appErr.Cause.Error()
	}
	return fields
}

// Chain joins non-nil errors with " -> ", returning nil if none are
// non-nil and the lone error unwrapped if exactly one is non-nil.
func Chain(errs ...error) error {
	var present []error
	for _, e := range errs {
		if e != nil {
			present = append(present, e)
		}
	}
	switch len(present) {
	case 0:
		return nil
	case 1:
		return present[0]
	default:
		msg := present[0].Error()
		for _, e := range present[1:] {
			msg += " -> " + e.Error()
		}
		return fmt.Errorf("%s", msg)
	}
}
