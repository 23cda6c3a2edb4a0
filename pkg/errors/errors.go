package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrCodeConflict           ErrorCode = "CONFLICT"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"

	// Recovery outcomes
	ErrCodeRetriesExhausted   ErrorCode = "RETRIES_EXHAUSTED"
	ErrCodeRecoveryTimeout    ErrorCode = "RECOVERY_TIMEOUT"
	ErrCodeRecoveryInProgress ErrorCode = "RECOVERY_IN_PROGRESS"
	ErrCodeRecoveryFailed     ErrorCode = "RECOVERY_FAILED"
	ErrCodeSessionClosed      ErrorCode = "SESSION_CLOSED"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

// Common error constructors
func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewForbiddenError(message string) *AppError {
	return NewAppError(ErrCodeForbidden, message, http.StatusForbidden)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func NewServiceUnavailableError(message string) *AppError {
	return NewAppError(ErrCodeServiceUnavailable, message, http.StatusServiceUnavailable)
}

// NewRetriesExhaustedError reports that a recovery episode used every retry.
func NewRetriesExhaustedError(cause error, errorCount, maxRetries uint32) *AppError {
	return WrapError(cause, ErrCodeRetriesExhausted, "maximum recovery retries reached", http.StatusServiceUnavailable).
		WithContext("error_count", errorCount).
		WithContext("max_retries", maxRetries)
}

// NewRecoveryTimeoutError reports that a recovery episode ran past its deadline.
func NewRecoveryTimeoutError(cause error, elapsedMs int64) *AppError {
	return WrapError(cause, ErrCodeRecoveryTimeout, "recovery episode exceeded its time budget", http.StatusGatewayTimeout).
		WithContext("elapsed_ms", elapsedMs)
}

// NewRecoveryInProgressError reports an attempt made while one is already scheduled.
func NewRecoveryInProgressError(cause error) *AppError {
	return WrapError(cause, ErrCodeRecoveryInProgress, "a recovery attempt is already in progress", http.StatusConflict)
}

// NewRecoveryFailedError wraps the error returned by a recovery action.
func NewRecoveryFailedError(cause error) *AppError {
	return WrapError(cause, ErrCodeRecoveryFailed, "recovery action failed", http.StatusBadGateway)
}

// NewSessionClosedError reports use of a torn-down playback session.
func NewSessionClosedError(cause error) *AppError {
	return WrapError(cause, ErrCodeSessionClosed, "playback session is closed", http.StatusGone)
}

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// CodeOf returns the code of the first AppError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	if appErr := GetAppError(err); appErr != nil {
		return appErr.Code
	}
	return ""
}
