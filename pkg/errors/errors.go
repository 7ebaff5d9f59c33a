package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents different types of application errors
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeEventClosed ErrorType = "event_closed"
	ErrorTypeDuplicate   ErrorType = "duplicate"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeBadRequest  ErrorType = "bad_request"
	ErrorTypeInternal    ErrorType = "internal"
)

// AppError represents a structured application error. Message is user-facing
// (Vietnamese); Internal carries the cause for logs only.
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	StatusCode int                    `json:"status_code"`
	Internal   error                  `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	RetryAfter int                    `json:"retry_after,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Internal.Error())
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Internal
}

// As extracts an *AppError from err's chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// NewValidationError creates a 400 error carrying the first failing field message
func NewValidationError(message string, details map[string]interface{}) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Details:    details,
	}
}

// NewEventClosedError creates a 403 error for rounds that cannot accept check-ins
func NewEventClosedError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeEventClosed,
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

// NewConflictError creates a 409 error; details lists the collided fields
func NewConflictError(message string, details map[string]interface{}) *AppError {
	return &AppError{
		Type:       ErrorTypeDuplicate,
		Message:    message,
		StatusCode: http.StatusConflict,
		Details:    details,
	}
}

// NewRateLimitError creates a 429 error
func NewRateLimitError(message string, retryAfter int) *AppError {
	return &AppError{
		Type:       ErrorTypeRateLimit,
		Message:    message,
		StatusCode: http.StatusTooManyRequests,
		RetryAfter: retryAfter,
	}
}

// NewBadRequestError creates an error for bodies that cannot be parsed.
// The check-in contract reports these as 500.
func NewBadRequestError(message string, internal error) *AppError {
	return &AppError{
		Type:       ErrorTypeBadRequest,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   internal,
	}
}

// NewInternalError creates a new internal server error
func NewInternalError(message string, internal error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   internal,
	}
}
