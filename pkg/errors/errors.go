package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents different types of errors in the system
type ErrorType string

const (
	// ErrorTypeNotFound indicates a resource was not found
	ErrorTypeNotFound ErrorType = "NOT_FOUND"

	// ErrorTypeValidation indicates a malformed or impossible request
	ErrorTypeValidation ErrorType = "VALIDATION"

	// ErrorTypeConflict indicates a conflict with existing data
	ErrorTypeConflict ErrorType = "CONFLICT"

	// ErrorTypeUnauthorized indicates unauthorized access
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"

	// ErrorTypeSlotUnavailable indicates the requested slot is booked or outside availability
	ErrorTypeSlotUnavailable ErrorType = "SLOT_UNAVAILABLE"

	// ErrorTypeSosCreditExhausted indicates the subscription has no SOS tickets left
	ErrorTypeSosCreditExhausted ErrorType = "SOS_CREDIT_EXHAUSTED"

	// ErrorTypeRateLimited indicates a send was throttled and must be retried later
	ErrorTypeRateLimited ErrorType = "RATE_LIMITED"

	// ErrorTypeConnection indicates the WhatsApp bridge could not be reached
	ErrorTypeConnection ErrorType = "CONNECTION"

	// ErrorTypeInternal indicates an internal server error
	ErrorTypeInternal ErrorType = "INTERNAL"

	// ErrorTypeExternal indicates an error from external service
	ErrorTypeExternal ErrorType = "EXTERNAL"
)

// AppError represents an application error
type AppError struct {
	Type    ErrorType
	Message string
	Err     error

	// RetryAfter is set on RATE_LIMITED errors.
	RetryAfter time.Duration
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the unwrap interface
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *AppError {
	return &AppError{Type: ErrorTypeNotFound, Message: message}
}

// NewValidationError creates a new validation error
func NewValidationError(message string) *AppError {
	return &AppError{Type: ErrorTypeValidation, Message: message}
}

// NewConflictError creates a new conflict error
func NewConflictError(message string) *AppError {
	return &AppError{Type: ErrorTypeConflict, Message: message}
}

// NewUnauthorizedError creates a new unauthorized error
func NewUnauthorizedError(message string) *AppError {
	return &AppError{Type: ErrorTypeUnauthorized, Message: message}
}

// NewSlotUnavailableError reports a slot that is taken or outside the window
func NewSlotUnavailableError(message string) *AppError {
	return &AppError{Type: ErrorTypeSlotUnavailable, Message: message}
}

// NewSosCreditExhaustedError reports a subscription without SOS tickets
func NewSosCreditExhaustedError(message string) *AppError {
	return &AppError{Type: ErrorTypeSosCreditExhausted, Message: message}
}

// NewRateLimitedError reports a throttled send
func NewRateLimitedError(message string, retryAfter time.Duration) *AppError {
	return &AppError{Type: ErrorTypeRateLimited, Message: message, RetryAfter: retryAfter}
}

// NewConnectionError reports an unreachable messaging bridge
func NewConnectionError(message string, err error) *AppError {
	return &AppError{Type: ErrorTypeConnection, Message: message, Err: err}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{Type: ErrorTypeInternal, Message: message, Err: err}
}

// NewExternalError creates a new external service error
func NewExternalError(message string, err error) *AppError {
	return &AppError{Type: ErrorTypeExternal, Message: message, Err: err}
}

// TypeOf returns the ErrorType of the first AppError in err's chain, or "".
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}

// IsType reports whether err carries an AppError of the given type.
func IsType(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}
