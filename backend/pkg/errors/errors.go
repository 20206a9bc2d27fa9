package errors

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeNotFound represents a referenced user, node, course or session that does not exist
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeValidation represents caller input that cannot be acted on
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeStore represents record store failures
	ErrorTypeStore ErrorType = "store"
	// ErrorTypeAI represents failures of the AI completion collaborator
	ErrorTypeAI ErrorType = "ai"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeContext represents context cancellation/timeout errors
	ErrorTypeContext ErrorType = "context"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// ErrType exposes the category; promoted to every error embedding BaseError
func (e *BaseError) ErrType() ErrorType {
	return e.Type
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

type typedError interface {
	error
	ErrType() ErrorType
}

// Not-found errors

// ErrNotFound is returned when a referenced entity does not exist
type ErrNotFound struct {
	*BaseError
	Kind string
	ID   string
}

func NewNotFound(kind, id string) *ErrNotFound {
	return &ErrNotFound{
		BaseError: NewBaseError(ErrorTypeNotFound, fmt.Sprintf("%s not found: %s", kind, id), nil),
		Kind:      kind,
		ID:        id,
	}
}

// Validation errors

// ErrValidation is returned when caller input is unusable
type ErrValidation struct {
	*BaseError
	Field  string
	Reason string
}

func NewValidation(field, reason string) *ErrValidation {
	return &ErrValidation{
		BaseError: NewBaseError(ErrorTypeValidation, fmt.Sprintf("invalid %s: %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// Store errors

// ErrStoreFailed is returned when a record store operation fails
type ErrStoreFailed struct {
	*BaseError
	Op    string
	Table string
}

func NewStoreFailed(op, table string, err error) *ErrStoreFailed {
	return &ErrStoreFailed{
		BaseError: NewBaseError(ErrorTypeStore, fmt.Sprintf("%s %s failed", op, table), err),
		Op:        op,
		Table:     table,
	}
}

// AI errors

// ErrAIUnavailable is returned when the completion service cannot be reached
type ErrAIUnavailable struct {
	*BaseError
	Model    string
	Attempts int
}

func NewAIUnavailable(model string, attempts int, err error) *ErrAIUnavailable {
	return &ErrAIUnavailable{
		BaseError: NewBaseError(ErrorTypeAI, fmt.Sprintf("completion failed after %d attempts", attempts), err),
		Model:     model,
		Attempts:  attempts,
	}
}

// ErrAIRejected is returned when the completion service refuses a request
// outright; resending the same request cannot succeed.
type ErrAIRejected struct {
	*BaseError
	Model      string
	StatusCode int
}

func NewAIRejected(model string, statusCode int, err error) *ErrAIRejected {
	return &ErrAIRejected{
		BaseError:  NewBaseError(ErrorTypeAI, fmt.Sprintf("completion rejected with status %d", statusCode), err),
		Model:      model,
		StatusCode: statusCode,
	}
}

// ErrAIResponseInvalid describes an AI response that could not be parsed.
// It is informational: callers treat such responses as an empty update.
type ErrAIResponseInvalid struct {
	*BaseError
	Reason string
}

func NewAIResponseInvalid(reason string, err error) *ErrAIResponseInvalid {
	return &ErrAIResponseInvalid{
		BaseError: NewBaseError(ErrorTypeAI, fmt.Sprintf("invalid AI response: %s", reason), err),
		Reason:    reason,
	}
}

// ErrAIDisabled is returned when an AI-backed operation is requested without a configured model
var ErrAIDisabled = NewBaseError(ErrorTypeAI, "AI completion service not configured", nil)

// Context errors

// ErrContextTimeout is returned when context times out
type ErrContextTimeout struct {
	*BaseError
	Operation string
	Timeout   time.Duration
}

func NewContextTimeout(operation string, timeout time.Duration) *ErrContextTimeout {
	return &ErrContextTimeout{
		BaseError: NewBaseError(ErrorTypeContext, fmt.Sprintf("context timeout: %s (timeout: %v)", operation, timeout), nil),
		Operation: operation,
		Timeout:   timeout,
	}
}

// WrapContextTimeout is NewContextTimeout keeping the error that hit the deadline
func WrapContextTimeout(operation string, timeout time.Duration, err error) *ErrContextTimeout {
	e := NewContextTimeout(operation, timeout)
	e.Err = err
	return e
}

// Config errors

// ErrConfigValidationFailed is returned when configuration validation fails
type ErrConfigValidationFailed struct {
	*BaseError
	Field  string
	Reason string
}

func NewConfigValidationFailed(field, reason string) *ErrConfigValidationFailed {
	return &ErrConfigValidationFailed{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("config validation failed: %s - %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// ErrConfigMissingRequired is returned when a required config value is missing
type ErrConfigMissingRequired struct {
	*BaseError
	Field string
}

func NewConfigMissingRequired(field string) *ErrConfigMissingRequired {
	return &ErrConfigMissingRequired{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("missing required config: %s", field), nil),
		Field:     field,
	}
}

// Helper functions

// IsErrorType checks if err, or anything it wraps, is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	var typed typedError
	if errors.As(err, &typed) {
		return typed.ErrType() == errType
	}
	return false
}

// IsNotFound reports whether err signals a missing entity
func IsNotFound(err error) bool {
	return IsErrorType(err, ErrorTypeNotFound)
}

// IsValidation reports whether err signals unusable caller input
func IsValidation(err error) bool {
	return IsErrorType(err, ErrorTypeValidation)
}

// IsRetryable checks if an error is retryable. Anything caused by a
// cancelled or expired context is not.
func IsRetryable(err error) bool {
	if IsErrorType(err, ErrorTypeContext) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var aiErr *ErrAIUnavailable
	if errors.As(err, &aiErr) {
		return true
	}
	return IsErrorType(err, ErrorTypeStore)
}
