package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrorType is the taxonomy kind of a classified error.
type ErrorType string

const (
	ErrorTypeTimeout      ErrorType = "timeout"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeExternalAPI  ErrorType = "external_api"
	ErrorTypeSystem       ErrorType = "system"
	ErrorTypeUser         ErrorType = "user"
	ErrorTypeBusinessRule ErrorType = "business_rule"
)

// Recoverable is the default recoverable flag of the kind.
func (t ErrorType) Recoverable() bool {
	return t != ErrorTypeSystem
}

// Retryable is the default retryable flag of the kind.
func (t ErrorType) Retryable() bool {
	switch t {
	case ErrorTypeTimeout, ErrorTypeExternalAPI, ErrorTypeSystem:
		return true
	default:
		return false
	}
}

// Valid reports whether t is one of the six kinds.
func (t ErrorType) Valid() bool {
	switch t {
	case ErrorTypeTimeout, ErrorTypeValidation, ErrorTypeExternalAPI,
		ErrorTypeSystem, ErrorTypeUser, ErrorTypeBusinessRule:
		return true
	default:
		return false
	}
}

// WorkflowError is a classified error. It is a value: once built it is never mutated.
type WorkflowError struct {
	ID          string         `json:"id"`
	Type        ErrorType      `json:"type"`
	Message     string         `json:"message"`
	Recoverable bool           `json:"recoverable"`
	Retryable   bool           `json:"retryable"`
	Timestamp   time.Time      `json:"timestamp"`
	Context     map[string]any `json:"context,omitempty"`

	cause error
}

// NewWorkflowError builds a classified error with the default flags of its kind.
func NewWorkflowError(errType ErrorType, message string, errCtx map[string]any) *WorkflowError {
	return &WorkflowError{
		ID:          uuid.NewString(),
		Type:        errType,
		Message:     message,
		Recoverable: errType.Recoverable(),
		Retryable:   errType.Retryable(),
		Timestamp:   time.Now().UTC(),
		Context:     errCtx,
	}
}

// WrapWorkflowError classifies cause. The cause stays reachable through
// errors.Is and errors.As but is not serialized.
func WrapWorkflowError(errType ErrorType, cause error, errCtx map[string]any) *WorkflowError {
	werr := NewWorkflowError(errType, cause.Error(), errCtx)
	werr.cause = cause

	return werr
}

func (e *WorkflowError) Unwrap() error {
	return e.cause
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType lets classifiers recognise typed errors without string matching.
func (e *WorkflowError) ErrorType() ErrorType {
	return e.Type
}
