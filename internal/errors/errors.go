// Package errors provides a lightweight structured error type (FixbotError)
// for category-based classification and retry semantics across pipeline stages.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory represents the category of a Fixbot error for classification
type ErrorCategory string

const (
	// External system integration errors
	CategoryNetwork   ErrorCategory = "network"    // transient network failure (5xx, reset, timeout)
	CategoryRateLimit ErrorCategory = "ratelimit"  // 429 or explicit rate-limit signal
	CategoryAuth      ErrorCategory = "auth"       // 401/403 from forge or LLM endpoint
	CategoryNotFound  ErrorCategory = "notfound"   // repository or commit missing
	CategoryGit       ErrorCategory = "git"        // clone/checkout/push failure
	CategoryForge     ErrorCategory = "forge"      // PR creation rejected (422 and friends)
	CategoryLLM       ErrorCategory = "llm"        // malformed or unusable LLM response

	// Pipeline and processing errors
	CategoryBuildTool  ErrorCategory = "buildtool"  // build tool exited non-zero
	CategoryTimeout    ErrorCategory = "timeout"    // build phase hit its deadline
	CategoryCandidates ErrorCategory = "candidates" // ranker produced no candidates
	CategoryPatch      ErrorCategory = "patch"      // no patch could be applied
	CategoryValidation ErrorCategory = "validation" // input validation

	// Runtime and infrastructure errors
	CategoryConfig   ErrorCategory = "config"
	CategoryStore    ErrorCategory = "store"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates how critical an error is
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops execution
	SeverityError   ErrorSeverity = "error"   // Error, but not fatal
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
)

// FixbotError is a structured error with category, retryability, and context
type FixbotError struct {
	Category  ErrorCategory `json:"category"`
	Severity  ErrorSeverity `json:"severity"`
	Message   string        `json:"message"`
	Cause     error         `json:"cause,omitempty"`
	Retryable bool          `json:"retryable"`
	Context   ContextFields `json:"context,omitempty"`
}

// ContextFields carries structured context for FixbotError
type ContextFields map[string]any

// Error implements the error interface
func (e *FixbotError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Category, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Category, e.Severity, e.Message)
}

// Unwrap implements error unwrapping for Go 1.13+ error handling
func (e *FixbotError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *FixbotError) WithContext(key string, value any) *FixbotError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// New creates a new non-retryable FixbotError
func New(category ErrorCategory, severity ErrorSeverity, message string) *FixbotError {
	return &FixbotError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Retryable: false,
	}
}

// Wrap creates a new FixbotError that wraps an existing error
func Wrap(err error, category ErrorCategory, severity ErrorSeverity, message string) *FixbotError {
	return &FixbotError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Cause:     err,
		Retryable: false,
	}
}

// Retryable creates a new retryable FixbotError
func Retryable(category ErrorCategory, severity ErrorSeverity, message string) *FixbotError {
	return &FixbotError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Retryable: true,
	}
}

// WrapRetryable creates a new retryable FixbotError that wraps an existing error
func WrapRetryable(err error, category ErrorCategory, severity ErrorSeverity, message string) *FixbotError {
	return &FixbotError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Cause:     err,
		Retryable: true,
	}
}

// IsCategory checks if an error belongs to a specific category
func IsCategory(err error, category ErrorCategory) bool {
	var fe *FixbotError
	if errors.As(err, &fe) {
		return fe.Category == category
	}
	return false
}

// IsRetryable checks if an error is retryable. Unclassified errors are
// treated as retryable so unexpected failures get the benefit of the
// orchestrator's bounded retry rather than failing a build outright.
func IsRetryable(err error) bool {
	var fe *FixbotError
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	return true
}

// GetCategory extracts the category from an error, or returns CategoryInternal if not a FixbotError
func GetCategory(err error) ErrorCategory {
	var fe *FixbotError
	if errors.As(err, &fe) {
		return fe.Category
	}
	return CategoryInternal
}

// FromHTTPStatus maps an HTTP status code from an external endpoint to a
// classified FixbotError wrapping cause.
func FromHTTPStatus(status int, cause error, message string) *FixbotError {
	switch {
	case status == 401 || status == 403:
		return Wrap(cause, CategoryAuth, SeverityError, message)
	case status == 404:
		return Wrap(cause, CategoryNotFound, SeverityError, message)
	case status == 422:
		return Wrap(cause, CategoryForge, SeverityError, message)
	case status == 429:
		return WrapRetryable(cause, CategoryRateLimit, SeverityWarning, message)
	case status >= 500:
		return WrapRetryable(cause, CategoryNetwork, SeverityWarning, message)
	default:
		return Wrap(cause, CategoryInternal, SeverityError, message)
	}
}
