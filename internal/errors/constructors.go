package errors

import "time"

// Convenience functions for common error patterns

// Process errors

func SetupFailed(operation string, cause error) *ClawError {
	return Wrap(cause, CategorySetup, SeverityError, "setup failed before process start").
		WithContext("operation", operation)
}

func TimedOut(operation string, after time.Duration) *ClawError {
	e := New(CategoryTimeout, SeverityError, "operation timed out")
	e.Retryable = true
	return e.WithContext("operation", operation).
		WithContext("timeout", after.String())
}

func ScriptFailed(operation string, exitCode int, detail string) *ClawError {
	return New(CategoryScript, SeverityError, "script reported failure").
		WithContext("operation", operation).
		WithContext("exit_code", exitCode).
		WithContext("detail", detail)
}

// Supervisor conditions

func Busy(operation string) *ClawError {
	return New(CategoryBusy, SeverityInfo, "operation already in progress").
		WithContext("operation", operation)
}

func Unavailable(operation string) *ClawError {
	return New(CategoryUnavailable, SeverityWarning, "execution backend not available").
		WithContext("operation", operation)
}

// Config errors

func ConfigNotFound(path string) *ClawError {
	return New(CategoryConfig, SeverityFatal, "configuration file not found").
		WithContext("path", path)
}

func ValidationFailed(field, reason string) *ClawError {
	return New(CategoryValidation, SeverityFatal, "validation failed").
		WithContext("field", field).
		WithContext("reason", reason)
}

// Internal errors

func InternalError(message string, cause error) *ClawError {
	return Wrap(cause, CategoryInternal, SeverityFatal, message)
}
