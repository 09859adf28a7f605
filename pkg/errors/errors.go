// Package errors provides a structured error system for quantcache with
// error codes, categories, and context.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for cache operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Configuration errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"

	// Quantization errors
	ErrCodeQuantizationFailed   ErrorCode = "QUANTIZATION_FAILED"
	ErrCodeDequantizationFailed ErrorCode = "DEQUANTIZATION_FAILED"
	ErrCodeUnsupportedKind      ErrorCode = "UNSUPPORTED_KIND"
	ErrCodeCorruptMetadata      ErrorCode = "CORRUPT_METADATA"

	// State management errors
	ErrCodeAlreadyStarted   ErrorCode = "ALREADY_STARTED"
	ErrCodeComponentStopped ErrorCode = "COMPONENT_STOPPED"
	ErrCodeInvalidState     ErrorCode = "INVALID_STATE"

	// Operation errors
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeTrainingFailed   ErrorCode = "TRAINING_FAILED"
	ErrCodeInternalError    ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryQuantization  ErrorCategory = "quantization"
	CategoryState         ErrorCategory = "state"
	CategoryOperation     ErrorCategory = "operation"
	CategoryInternal      ErrorCategory = "internal"
)

// CacheError represents a structured error with context and metadata.
type CacheError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Cause     error     `json:"-"` // Not serialized to avoid circular refs
	Timestamp time.Time `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *CacheError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *CacheError) Is(target error) bool {
	if cacheErr, ok := target.(*CacheError); ok {
		return e.Code == cacheErr.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *CacheError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("CacheError{%s}", strings.Join(parts, ", "))
}

// New creates a new cache error with default values.
func New(code ErrorCode, message string) *CacheError {
	return &CacheError{
		Code:      code,
		Category:  categoryOf(code),
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}
}

// Newf creates a new cache error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *CacheError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates a new cache error wrapping an underlying cause.
func Wrap(cause error, code ErrorCode, message string) *CacheError {
	err := New(code, message)
	err.Cause = cause
	return err
}

// WithComponent attaches the originating component name.
func (e *CacheError) WithComponent(component string) *CacheError {
	e.Component = component
	return e
}

// WithOperation attaches the operation that produced the error.
func (e *CacheError) WithOperation(operation string) *CacheError {
	e.Operation = operation
	return e
}

// WithDetail attaches a single detail key/value pair.
func (e *CacheError) WithDetail(key string, value interface{}) *CacheError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// categoryOf determines the category based on the error code.
func categoryOf(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG") || strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "QUANTIZATION_") || strings.HasPrefix(codeStr, "DEQUANTIZATION_") ||
		strings.HasPrefix(codeStr, "UNSUPPORTED_") || strings.HasPrefix(codeStr, "CORRUPT_"):
		return CategoryQuantization
	case strings.HasPrefix(codeStr, "ALREADY_") || strings.HasPrefix(codeStr, "COMPONENT_") ||
		strings.HasPrefix(codeStr, "INVALID_STATE"):
		return CategoryState
	case strings.HasPrefix(codeStr, "VALIDATION_") || strings.HasPrefix(codeStr, "TRAINING_"):
		return CategoryOperation
	default:
		return CategoryInternal
	}
}
