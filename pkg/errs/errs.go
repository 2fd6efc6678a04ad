// Package errs defines the error kinds shared across the identification
// pipeline. Pipeline stages wrap the cause of a failure in a *Error
// carrying a Kind so callers (and the CLI's JSON envelope) can branch on
// kind without string matching. The config and embedding packages return
// plain errors, for which KindOf reports no Kind.
package errs

import (
	"errors"
	"fmt"
)

// Kind names a category of failure, not a concrete type.
type Kind string

const (
	InvalidInput       Kind = "InvalidInput"
	EnvironmentMissing Kind = "EnvironmentMissing"
	ExtractionFailed   Kind = "ExtractionFailed"
	NoUsableSubtitles  Kind = "NoUsableSubtitles"
	CatalogueError     Kind = "CatalogueError"
	InferenceError     Kind = "InferenceError"
	NoMatch            Kind = "NoMatch"
	Ambiguous          Kind = "Ambiguous"
	RenameBlocked      Kind = "RenameBlocked"
	Cancelled          Kind = "Cancelled"
)

// Error is the wrapped-cause error type every stage returns.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error that carries cause, formatting message with cause appended on Error().
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err if it (transitively) wraps an *Error,
// and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err's kind equals kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
