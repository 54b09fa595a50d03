// Package force holds the shared taxonomy of the engine: error kinds,
// execution outcomes, run modes, and the structured error type every
// subsystem returns across package boundaries.
package force

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure. Kinds are wire-stable strings; they appear
// verbatim in MCP error payloads and learning records.
type ErrorKind string

const (
	KindSchemaMissing       ErrorKind = "schema_missing"
	KindSchemaError         ErrorKind = "schema_error"
	KindParseError          ErrorKind = "parse_error"
	KindSemanticError       ErrorKind = "semantic_error"
	KindReferenceError      ErrorKind = "reference_error"
	KindDuplicateID         ErrorKind = "duplicate_id"
	KindParameterError      ErrorKind = "parameter_error"
	KindPreconditionFailed  ErrorKind = "precondition_failed"
	KindPostconditionFailed ErrorKind = "postcondition_failed"
	KindUnknownAction       ErrorKind = "unknown_action"
	KindActionFailed        ErrorKind = "action_failed"
	KindTimeout             ErrorKind = "timeout"
	KindCancelled           ErrorKind = "cancelled"
	KindCircuitOpen         ErrorKind = "circuit_open"
	KindPolicyDenied        ErrorKind = "policy_denied"
	KindReloadRace          ErrorKind = "raced_with_external_edit"
	KindTransportError      ErrorKind = "transport_error"
	KindNotFound            ErrorKind = "not_found"
	KindInternal            ErrorKind = "internal"
)

// Error is the structured failure record crossing subsystem boundaries.
// It wraps an optional cause and carries machine-readable details.
type Error struct {
	Kind    ErrorKind      `json:"type"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches two force errors by kind, so callers can use
// errors.Is(err, &Error{Kind: KindTimeout}).
func (e *Error) Is(target error) bool {
	var fe *Error
	if errors.As(target, &fe) {
		return fe.Kind == e.Kind
	}
	return false
}

// NewError builds a structured error of the given kind.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds a structured error wrapping a cause.
func WrapError(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// WithDetail attaches a machine-readable detail and returns the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// KindOf extracts the ErrorKind from err, or KindInternal when err is not a
// structured force error.
func KindOf(err error) ErrorKind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}
