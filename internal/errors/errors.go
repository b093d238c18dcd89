// Package errors provides a lightweight structured error type (HoistError)
// for category-based classification of build orchestration failures.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory represents the category of a hoist error for classification
type ErrorCategory string

const (
	// User-facing configuration and input errors
	CategoryConfig    ErrorCategory = "config"
	CategorySelection ErrorCategory = "selection"

	// External system integration errors
	CategoryGit ErrorCategory = "git"

	// Build and processing errors
	CategoryTask       ErrorCategory = "task"
	CategoryCache      ErrorCategory = "cache"
	CategoryFileSystem ErrorCategory = "filesystem"

	// Runtime and infrastructure errors
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates how critical an error is
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops execution
	SeverityError   ErrorSeverity = "error"   // Error, but not fatal
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
)

// HoistError is a structured error with category, severity, and context
type HoistError struct {
	Category ErrorCategory `json:"category"`
	Severity ErrorSeverity `json:"severity"`
	Message  string        `json:"message"`
	Cause    error         `json:"cause,omitempty"`
	Context  ContextFields `json:"context,omitempty"`
}

// ContextFields carries structured context for HoistError
type ContextFields map[string]any

// Error implements the error interface
func (e *HoistError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Category, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Category, e.Severity, e.Message)
}

// Unwrap implements error unwrapping for Go 1.13+ error handling
func (e *HoistError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *HoistError) WithContext(key string, value any) *HoistError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// New creates a new HoistError
func New(category ErrorCategory, severity ErrorSeverity, message string) *HoistError {
	return &HoistError{
		Category: category,
		Severity: severity,
		Message:  message,
	}
}

// Wrap creates a new HoistError that wraps an existing error
func Wrap(err error, category ErrorCategory, severity ErrorSeverity, message string) *HoistError {
	return &HoistError{
		Category: category,
		Severity: severity,
		Message:  message,
		Cause:    err,
	}
}

// IsCategory checks if an error belongs to a specific category
func IsCategory(err error, category ErrorCategory) bool {
	var he *HoistError
	if errors.As(err, &he) {
		return he.Category == category
	}
	return false
}

// IsFatal reports whether an error carries fatal severity.
func IsFatal(err error) bool {
	var he *HoistError
	if errors.As(err, &he) {
		return he.Severity == SeverityFatal
	}
	return false
}

// GetCategory extracts the category from an error, or returns CategoryInternal
// if it is not a HoistError
func GetCategory(err error) ErrorCategory {
	var he *HoistError
	if errors.As(err, &he) {
		return he.Category
	}
	return CategoryInternal
}
