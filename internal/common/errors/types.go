package errors

import (
	"fmt"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTypeUnknownProvider represents references to a provider id that is not registered
	ErrTypeUnknownProvider ErrorType = "unknown_provider"
	// ErrTypeDuplicateProvider represents registering a provider id twice
	ErrTypeDuplicateProvider ErrorType = "duplicate_provider"
	// ErrTypeValidation represents validation errors
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeCredentialExpired represents expired or unrefreshable credentials
	ErrTypeCredentialExpired ErrorType = "credential_expired"
	// ErrTypeTriggerCheck represents provider-side failures while evaluating a trigger condition
	ErrTypeTriggerCheck ErrorType = "trigger_check"
	// ErrTypeReactionExecution represents reaction failures after a positive trigger
	ErrTypeReactionExecution ErrorType = "reaction_execution"
	// ErrTypeAuthentication represents gateway authentication failures
	ErrTypeAuthentication ErrorType = "authentication"
	// ErrTypeNotFound represents resource not found errors
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeConfig represents configuration errors
	ErrTypeConfig ErrorType = "config"
	// ErrTypeConnection represents connection-related errors
	ErrTypeConnection ErrorType = "connection"
	// ErrTypeInternal represents internal system errors
	ErrTypeInternal ErrorType = "internal"
)

// AppError represents a structured application error
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// UnknownProviderError creates an error for an unregistered provider id
func UnknownProviderError(providerID string) *AppError {
	return &AppError{
		Type:    ErrTypeUnknownProvider,
		Message: fmt.Sprintf("provider %q is not registered", providerID),
	}
}

// DuplicateProviderError creates an error for a provider id registered twice
func DuplicateProviderError(providerID string) *AppError {
	return &AppError{
		Type:    ErrTypeDuplicateProvider,
		Message: fmt.Sprintf("provider %q is already registered", providerID),
	}
}

// ValidationError creates a new validation error
func ValidationError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: msg,
	}
}

// CredentialExpiredError creates an error for a credential that is expired
// and could not be refreshed
func CredentialExpiredError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeCredentialExpired,
		Message: msg,
		Cause:   cause,
	}
}

// TriggerCheckError creates an error for a failed trigger condition check
func TriggerCheckError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeTriggerCheck,
		Message: msg,
		Cause:   cause,
	}
}

// ReactionExecutionError creates an error for a reaction that failed after a
// positive trigger
func ReactionExecutionError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeReactionExecution,
		Message: msg,
		Cause:   cause,
	}
}

// AuthenticationError creates a new authentication error
func AuthenticationError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeAuthentication,
		Message: msg,
	}
}

// NotFoundError creates a new not found error
func NotFoundError(resource string) *AppError {
	return &AppError{
		Type:    ErrTypeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// ConfigError creates a new configuration error
func ConfigError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Message: msg,
	}
}

// ConnectionError creates a new connection error
func ConnectionError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeConnection,
		Message: msg,
		Cause:   cause,
	}
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeInternal,
		Message: msg,
		Cause:   cause,
	}
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	if err == nil {
		return false
	}

	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}

	return appErr.Type == errType
}

// GetType returns the error type if it's an AppError, otherwise returns ErrTypeInternal
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}

	appErr, ok := err.(*AppError)
	if !ok {
		return ErrTypeInternal
	}

	return appErr.Type
}
