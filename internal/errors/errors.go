// Package errors provides a lightweight structured error type (ClawError)
// for category-based classification of subprocess and gateway failures in the CLI.
package errors

import (
	stdErrors "errors"
	"fmt"
)

// ErrorCategory represents the category of a ClawError for classification
type ErrorCategory string

const (
	// Failures before any process was started (temp script, asset copy)
	CategorySetup ErrorCategory = "setup"

	// A bounded operation ran out of time; the process tree was killed
	CategoryTimeout ErrorCategory = "timeout"

	// The script ran and reported failure (non-zero exit or error sentinel)
	CategoryScript ErrorCategory = "script"

	// Supervisor conditions that are not failures of the child
	CategoryBusy        ErrorCategory = "busy"
	CategoryUnavailable ErrorCategory = "unavailable"
	CategoryCanceled    ErrorCategory = "canceled"

	// User-facing configuration and input errors
	CategoryConfig     ErrorCategory = "config"
	CategoryValidation ErrorCategory = "validation"

	CategoryFileSystem ErrorCategory = "filesystem"
	CategoryInternal   ErrorCategory = "internal"
)

// ErrorSeverity indicates how critical an error is
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops execution
	SeverityError   ErrorSeverity = "error"   // Error, but not fatal
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
	SeverityInfo    ErrorSeverity = "info"    // Informational, no impact
)

// ClawError is a structured error with category, retryability, and context
type ClawError struct {
	Category  ErrorCategory `json:"category"`
	Severity  ErrorSeverity `json:"severity"`
	Message   string        `json:"message"`
	Cause     error         `json:"cause,omitempty"`
	Retryable bool          `json:"retryable"`
	Context   ContextFields `json:"context,omitempty"`
}

// ContextFields carries structured context for ClawError
type ContextFields map[string]any

// Error implements the error interface
func (e *ClawError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Category, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Category, e.Severity, e.Message)
}

// Unwrap implements error unwrapping for Go 1.13+ error handling
func (e *ClawError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *ClawError) WithContext(key string, value any) *ClawError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// New creates a new ClawError
func New(category ErrorCategory, severity ErrorSeverity, message string) *ClawError {
	return &ClawError{
		Category: category,
		Severity: severity,
		Message:  message,
	}
}

// Wrap creates a new ClawError that wraps an existing error
func Wrap(err error, category ErrorCategory, severity ErrorSeverity, message string) *ClawError {
	return &ClawError{
		Category: category,
		Severity: severity,
		Message:  message,
		Cause:    err,
	}
}

// WrapRetryable creates a new retryable ClawError that wraps an existing error
func WrapRetryable(err error, category ErrorCategory, severity ErrorSeverity, message string) *ClawError {
	return &ClawError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Cause:     err,
		Retryable: true,
	}
}

// As returns the first ClawError in err's chain.
func As(err error) (*ClawError, bool) {
	var ce *ClawError
	if stdErrors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsCategory checks if an error belongs to a specific category
func IsCategory(err error, category ErrorCategory) bool {
	if ce, ok := As(err); ok {
		return ce.Category == category
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if ce, ok := As(err); ok {
		return ce.Retryable
	}
	return false
}

// GetCategory extracts the category from an error, or returns CategoryInternal if not a ClawError
func GetCategory(err error) ErrorCategory {
	if ce, ok := As(err); ok {
		return ce.Category
	}
	return CategoryInternal
}
