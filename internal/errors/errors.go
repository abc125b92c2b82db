package errors

import (
	stderrors "errors"
	"fmt"
)

// LearnError is the structured error type for learnsearch.
// It carries enough context for classification, logging, and operator output.
type LearnError struct {
	// Code is the unique error code (e.g., "ERR_204_VERSION_CONFLICT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category derived from the code.
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates the operation may succeed if repeated later.
	Retryable bool

	// Suggestion is an actionable hint for the operator.
	Suggestion string
}

// Error implements the error interface.
func (e *LearnError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *LearnError) Unwrap() error {
	return e.Cause
}

// Is matches another LearnError by code, so errors.Is(err, New(code, "", nil)) works.
func (e *LearnError) Is(target error) bool {
	if t, ok := target.(*LearnError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *LearnError) WithDetail(key, value string) *LearnError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the operator.
func (e *LearnError) WithSuggestion(suggestion string) *LearnError {
	e.Suggestion = suggestion
	return e
}

// New creates a new LearnError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *LearnError {
	return &LearnError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Newf is New with a formatted message and no cause.
func Newf(code string, format string, args ...any) *LearnError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates a LearnError from an existing error.
// The error's message becomes the LearnError message.
func Wrap(code string, err error) *LearnError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *LearnError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates a fatal document validation error.
func ValidationError(message string, cause error) *LearnError {
	return New(ErrCodeInvalidDocument, message, cause)
}

// Unavailable creates a retryable engine availability error.
func Unavailable(message string, cause error) *LearnError {
	return New(ErrCodeEngineUnavailable, message, cause)
}

// NotFound creates a document-not-found error.
func NotFound(message string) *LearnError {
	return New(ErrCodeDocumentNotFound, message, nil)
}

// As returns the first LearnError in err's chain.
func As(err error) (*LearnError, bool) {
	var le *LearnError
	if stderrors.As(err, &le) {
		return le, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
// Returns true if a LearnError in the chain has the Retryable flag set.
func IsRetryable(err error) bool {
	le, ok := As(err)
	return ok && le.Retryable
}

// IsNotFound reports whether err is a benign not-found race.
func IsNotFound(err error) bool {
	le, ok := As(err)
	return ok && isNotFoundCode(le.Code)
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	le, ok := As(err)
	return ok && le.Severity == SeverityFatal
}

// GetCode extracts the error code from a LearnError.
// Returns empty string if there is none in the chain.
func GetCode(err error) string {
	if le, ok := As(err); ok {
		return le.Code
	}
	return ""
}

// GetCategory extracts the category from a LearnError.
func GetCategory(err error) Category {
	if le, ok := As(err); ok {
		return le.Category
	}
	return ""
}
