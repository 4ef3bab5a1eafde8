package errors

import (
	"errors"
	"fmt"
)

// KBError is the structured error type for kbretrieve.
// It carries enough context to classify backend failures, log them and show them to a user.
type KBError struct {
	// Code is the unique error code (e.g., "ERR_304_BACKEND_TRANSPORT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Network, Auth, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates a later attempt may succeed.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *KBError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *KBError) Unwrap() error {
	return e.Cause
}

// Is matches another *KBError by code, so errors.Is works against code templates.
func (e *KBError) Is(target error) bool {
	if t, ok := target.(*KBError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *KBError) WithDetail(key, value string) *KBError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *KBError) WithSuggestion(suggestion string) *KBError {
	e.Suggestion = suggestion
	return e
}

// New creates a new KBError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *KBError {
	return &KBError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a KBError from an existing error.
// The error's message becomes the KBError message.
func Wrap(code string, err error) *KBError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *KBError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// IOError creates an I/O-related error.
func IOError(message string, cause error) *KBError {
	return New(ErrCodeFileNotFound, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *KBError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *KBError {
	return New(ErrCodeInternal, message, cause)
}

// BackendAuthError reports credentials rejected by a search backend.
func BackendAuthError(backend, message string, cause error) *KBError {
	return New(ErrCodeBackendAuth, message, cause).
		WithDetail("backend", backend).
		WithSuggestion("Check the backend API key")
}

// BackendTransportError reports a backend that could not be reached or answered with a server error.
func BackendTransportError(backend, message string, cause error) *KBError {
	return New(ErrCodeBackendTransport, message, cause).WithDetail("backend", backend)
}

// BackendConfigError reports a backend missing required parameters such as endpoint or index.
func BackendConfigError(backend, message string, cause error) *KBError {
	return New(ErrCodeBackendConfig, message, cause).
		WithDetail("backend", backend).
		WithSuggestion("Run 'kbretrieve config show' to inspect backend settings")
}

// PolicyViolationError reports a policy that cannot be satisfied with the configured backends.
func PolicyViolationError(message string, cause error) *KBError {
	return New(ErrCodePolicyViolation, message, cause)
}

// FusionInputError reports a malformed document handed to fusion.
func FusionInputError(message string, cause error) *KBError {
	return New(ErrCodeFusionInput, message, cause)
}

// as finds the first KBError in err's chain.
func as(err error) (*KBError, bool) {
	var ke *KBError
	if err == nil || !errors.As(err, &ke) {
		return nil, false
	}
	return ke, true
}

// IsRetryable checks if an error is retryable.
// Returns true if the error chain holds a KBError with Retryable flag set.
func IsRetryable(err error) bool {
	ke, ok := as(err)
	return ok && ke.Retryable
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	ke, ok := as(err)
	return ok && ke.Severity == SeverityFatal
}

// IsCategory reports whether err's chain holds a KBError of the given category.
func IsCategory(err error, category Category) bool {
	ke, ok := as(err)
	return ok && ke.Category == category
}

// GetCode extracts the error code from a KBError.
// Returns empty string if the chain holds no KBError.
func GetCode(err error) string {
	if ke, ok := as(err); ok {
		return ke.Code
	}
	return ""
}

// GetCategory extracts the category from a KBError.
// Returns empty string if the chain holds no KBError.
func GetCategory(err error) Category {
	if ke, ok := as(err); ok {
		return ke.Category
	}
	return ""
}
