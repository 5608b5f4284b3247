// Package parser turns free-text LLM responses into typed, validated
// records for the six known response shapes, and fills prompt templates.
package parser

import "fmt"

// ErrorKind discriminates parse failures so the orchestrator can decide
// whether to retry the LLM call with feedback.
type ErrorKind string

const (
	KindNoJSON       ErrorKind = "no_json"
	KindInvalidJSON  ErrorKind = "invalid_json"
	KindMissingField ErrorKind = "missing_field"
	KindOutOfRange   ErrorKind = "out_of_range"
	KindUnknownEnum  ErrorKind = "unknown_enum"
)

// ParseError is returned by all Parse* functions.
type ParseError struct {
	Kind  ErrorKind
	Shape string // which response shape was being parsed
	Field string // offending field, when known
	Cause error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("parse %s: %s", e.Shape, e.Kind)
	if e.Field != "" {
		msg += fmt.Sprintf(" (field %q)", e.Field)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Cause }

// Retryable reports whether feeding the error back to the LLM is likely to
// produce a usable response on a second attempt.
func (e *ParseError) Retryable() bool { return true }
