package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError provides a structured error that can be rendered to API and realtime consumers.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Aggregate  string `json:"aggregate,omitempty"`
	Field      string `json:"field,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// Is matches AppErrors by code so copies produced by WithInternal still match their sentinel.
func (e *AppError) Is(target error) bool {
	if e == nil {
		return false
	}
	var other *AppError
	if !errors.As(target, &other) || other == nil {
		return false
	}
	return e.Code == other.Code
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// WithMessage returns a copy of the AppError with a more specific message.
func (e *AppError) WithMessage(message string) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Message = message
	return &cpy
}

// Common errors exposed to the rest of the application.
var (
	ErrForbidden = &AppError{
		Code:       "FORBIDDEN",
		Message:    "Permission denied",
		StatusCode: http.StatusForbidden,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}

	ErrInvalidParameters = &AppError{
		Code:       "INVALID_PARAMETERS",
		Message:    "Action id, type and plugin id are required",
		StatusCode: http.StatusBadRequest,
	}

	ErrCapacityExceeded = &AppError{
		Code:       "SESSION_FULL",
		Message:    "Session has reached its participant limit",
		StatusCode: http.StatusConflict,
	}

	ErrNotConnected = &AppError{
		Code:       "PARTICIPANT_NOT_CONNECTED",
		Message:    "Participant is not connected to the session",
		StatusCode: http.StatusForbidden,
	}

	ErrQueueFull = &AppError{
		Code:       "ACTION_QUEUE_FULL",
		Message:    "Game master is unavailable and the action queue is full",
		StatusCode: http.StatusServiceUnavailable,
		Retryable:  true,
	}

	ErrExecutionFailed = &AppError{
		Code:       "ACTION_EXECUTION_FAILED",
		Message:    "Action execution failed",
		StatusCode: http.StatusInternalServerError,
	}

	ErrSessionDisposed = &AppError{
		Code:       "SESSION_DISPOSED",
		Message:    "Session has ended",
		StatusCode: http.StatusGone,
	}
)

// ValidationCode identifies invariant and input violations raised by aggregates.
const ValidationCode = "VALIDATION_ERROR"

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// NewValidation reports a non-retryable invariant violation on a named aggregate field.
func NewValidation(aggregate, field, reason string) *AppError {
	return &AppError{
		Code:       ValidationCode,
		Message:    fmt.Sprintf("%s: invalid %s: %s", aggregate, field, reason),
		Aggregate:  aggregate,
		Field:      field,
		StatusCode: http.StatusUnprocessableEntity,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternalServer.WithInternal(err)
}

// IsRetryable reports whether the caller may retry the failed request after backing off.
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		return appErr.Retryable
	}
	return false
}

// NewBadRequest wraps validation errors with a helpful message.
func NewBadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrBadRequest.Code,
		Message:    message,
		StatusCode: ErrBadRequest.StatusCode,
	}
}
