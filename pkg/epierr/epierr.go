// Package epierr defines the error taxonomy shared by every layer of the
// workspace runtime: the table API, the observer bus, materializers,
// providers, and the action system all raise (or wrap) an *Error carrying a
// stable Code, a human-readable Message, and optional Context and Cause.
package epierr

import (
	"errors"
	"fmt"
)

// Code identifies the kind of failure. Callers should compare codes with
// HasCode, or with errors.Is against an *Error built by New for that code,
// not by string equality.
type Code string

const (
	CodeValidationFailed Code = "validation-failed"
	CodeIDConflict       Code = "id-conflict"
	CodeRowNotFound      Code = "row-not-found"
	CodeBadDateFormat    Code = "bad-date-format"
	CodeMaterializerFail Code = "materializer-failed"
	CodeProviderFailed   Code = "provider-failed"
	CodeDependencyCycle  Code = "dependency-cycle"
	CodeSchemaDrift      Code = "schema-drift"
	CodeBadID            Code = "bad-id"
	CodeNotInOptions     Code = "not-in-options"
	CodeMissingRequired  Code = "missing-required"
	CodeInternal         Code = "internal"
)

// Error is the concrete error type raised across the runtime.
type Error struct {
	Code    Code
	Message string
	Context map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match on Code alone, so callers can write
// errors.Is(err, epierr.New(epierr.CodeRowNotFound, "")) or, more simply,
// HasCode(err, epierr.CodeRowNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New builds an *Error with no cause.
func New(code Code, message string, context map[string]any) *Error {
	return &Error{Code: code, Message: message, Context: context}
}

// Wrap builds an *Error around an existing error, preserving it as Cause so
// errors.Unwrap / errors.As still reach it.
func Wrap(code Code, message string, cause error, context map[string]any) *Error {
	return &Error{Code: code, Message: message, Cause: cause, Context: context}
}

// HasCode reports whether err is, or wraps, an *Error with the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}

// WithContext returns a copy of e with additional context keys merged in.
func (e *Error) WithContext(kv map[string]any) *Error {
	merged := make(map[string]any, len(e.Context)+len(kv))
	for k, v := range e.Context {
		merged[k] = v
	}
	for k, v := range kv {
		merged[k] = v
	}
	return &Error{Code: e.Code, Message: e.Message, Context: merged, Cause: e.Cause}
}
