package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrorTypeValidation         ErrorType = "validation"
	ErrorTypeNotFound           ErrorType = "not_found"
	ErrorTypeRateLimit          ErrorType = "rate_limit"
	ErrorTypeInternal           ErrorType = "internal"
	ErrorTypeTimeout            ErrorType = "timeout"
	ErrorTypeCircuitOpen        ErrorType = "circuit_open"
	ErrorTypeUpstream           ErrorType = "upstream"
	ErrorTypeSecurityValidation ErrorType = "security_validation"
	ErrorTypeQualityValidation  ErrorType = "quality_validation"
)

// AppError represents an application error with context
type AppError struct {
	Type      ErrorType         `json:"type"`
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	RequestID string            `json:"request_id"`
	Timestamp time.Time         `json:"timestamp"`
	Cause     error             `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Details:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail adds a detail to the error
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithRequestID adds a request ID to the error
func (e *AppError) WithRequestID(requestID string) *AppError {
	e.RequestID = requestID
	return e
}

// Common error constructors
func NewValidationError(message string) *AppError {
	return NewAppError(ErrorTypeValidation, "VALIDATION_ERROR", message)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrorTypeNotFound, "NOT_FOUND", fmt.Sprintf("%s not found", resource))
}

func NewRateLimitError(message string) *AppError {
	return NewAppError(ErrorTypeRateLimit, "RATE_LIMIT_EXCEEDED", message)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, "INTERNAL_ERROR", message)
}

// NewTimeoutError reports an operation that did not settle within its deadline.
func NewTimeoutError(operation string, timeout time.Duration) *AppError {
	return NewAppError(ErrorTypeTimeout, "TIMEOUT", fmt.Sprintf("%s timeout after %s", operation, timeout)).
		WithDetail("operation", operation).
		WithDetail("timeout", timeout.String())
}

// NewCircuitOpenError reports a call refused because the named breaker is open.
func NewCircuitOpenError(name string) *AppError {
	return NewAppError(ErrorTypeCircuitOpen, "CIRCUIT_OPEN",
		"service temporarily unavailable - circuit breaker open").
		WithDetail("circuit", name)
}

// NewUpstreamError wraps a failure of the remote service.
func NewUpstreamError(service string, cause error) *AppError {
	message := "upstream call failed"
	if cause != nil {
		message = cause.Error()
	}
	return NewAppError(ErrorTypeUpstream, "UPSTREAM_ERROR", message).
		WithDetail("service", service).
		WithCause(cause)
}

// NewSecurityValidationError reports input flagged by the security validator.
// The kinds are recorded in Details so handlers can surface them.
func NewSecurityValidationError(kinds []string) *AppError {
	return NewAppError(ErrorTypeSecurityValidation, "SECURITY_VALIDATION_FAILED",
		"input failed security validation").
		WithDetail("issues", strings.Join(kinds, ","))
}

// NewQualityValidationFailure reports a response that failed quality checks.
// It is advisory: callers decide whether to surface or drop the answer.
func NewQualityValidationFailure(score int, kinds []string) *AppError {
	return NewAppError(ErrorTypeQualityValidation, "QUALITY_VALIDATION_FAILED",
		fmt.Sprintf("response failed quality validation (score %d)", score)).
		WithDetail("issues", strings.Join(kinds, ",")).
		WithDetail("accuracy_score", fmt.Sprintf("%d", score))
}

// IsType checks if the error, or any error it wraps, is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// IsNotFound is shorthand for IsType(err, ErrorTypeNotFound)
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// IsRetryable reports whether a failed attempt may be tried again.
// Only timeouts and upstream failures qualify.
func IsRetryable(err error) bool {
	return IsType(err, ErrorTypeTimeout) || IsType(err, ErrorTypeUpstream)
}

// GetCode returns the error code if it's an AppError
func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN_ERROR"
}

// GetType returns the error type if it's an AppError
func GetType(err error) ErrorType {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// As is re-exported so callers importing this package under the name errors
// keep access to the standard helper.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// Is is re-exported from the standard library.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// New is re-exported from the standard library.
func New(text string) error {
	return stderrors.New(text)
}
