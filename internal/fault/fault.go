// Package fault defines the error taxonomy shared across the pipeline.
// Every user-visible failure is classified by a Kind so the API layer can
// map it to a status code and the worker can decide whether to retry.
package fault

import (
	"errors"
	"fmt"
)

// Kind categorizes an error.
type Kind string

const (
	// Validation marks malformed or missing input. Never retried.
	Validation Kind = "validation"
	// Auth marks a missing or unresolvable credential. Never retried.
	Auth Kind = "auth"
	// NotFound marks a missing row or a row the caller does not own.
	NotFound Kind = "not_found"
	// State marks an operation invalid for the row's current lifecycle state.
	State Kind = "state"
	// Fetch marks a page-fetch collaborator failure. Transient.
	Fetch Kind = "fetch"
	// Generation marks an LLM collaborator failure. Transient.
	Generation Kind = "generation"
	// Internal marks everything unexpected.
	Internal Kind = "internal"
)

// Error is a kind-classified error, optionally wrapping a cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error with the given message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Errorf returns a classified error with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error. Returns nil if err is nil.
func Wrap(kind Kind, err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf reports the Kind of err, unwrapping as needed.
// Unclassified errors are Internal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether err is worth another attempt. Input, auth,
// ownership, and lifecycle errors are permanent; collaborator failures and
// anything unclassified (storage hiccups included) may clear up.
func Retryable(err error) bool {
	switch KindOf(err) {
	case Validation, Auth, NotFound, State:
		return false
	}
	return true
}

// Message returns the classified message without the kind prefix, falling
// back to err.Error() for unclassified errors. Used where the message is
// persisted or shown to a caller.
func Message(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		if fe.Err != nil {
			return fmt.Sprintf("%s: %v", fe.Msg, fe.Err)
		}
		return fe.Msg
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
