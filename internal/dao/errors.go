package dao

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable error category.
type Kind string

const (
	// KindValidation marks malformed identifiers, object ids, settings or values.
	KindValidation Kind = "validation"
	// KindConnectivity marks tunnel and driver failures.
	KindConnectivity Kind = "connectivity"
	// KindAgentUnreachable marks a local agent that cannot be resolved or reached.
	KindAgentUnreachable Kind = "agent_unreachable"
	// KindAgent marks an error reported by the agent for a delegated command.
	KindAgent Kind = "agent"
	// KindLargeDataset marks a refusal to stream a table above the threshold.
	KindLargeDataset Kind = "large_dataset"
	// KindNotSupported marks an operation the engine cannot perform.
	KindNotSupported Kind = "not_supported"
)

// Error wraps an error with kind and human-friendly message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func Wrap(kind Kind, msg string, err error) *Error { return &Error{Kind: kind, Message: msg, Err: err} }
func New(kind Kind, msg string) *Error             { return &Error{Kind: kind, Message: msg} }

// Validationf builds a validation error.
func Validationf(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

// Connectivity wraps a driver or tunnel failure. Nil stays nil and errors that
// already carry a kind are returned unchanged.
func Connectivity(msg string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return Wrap(KindConnectivity, msg, err)
}

// ErrTooLargeToStream is returned by StreamRows for large datasets.
var ErrTooLargeToStream = New(KindLargeDataset, "table is too large to stream; narrow the request with filters")

// ErrNoDataFromAgent is returned when the agent response has no commandResult.
var ErrNoDataFromAgent = New(KindAgent, "no data returned from agent")

// ErrAgentUnreachable is the base error for an offline local agent.
var ErrAgentUnreachable = New(KindAgentUnreachable, "cannot reach local agent; check that the agent is running")

// KindOf returns the kind of err, or "" when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the human part of err without the kind prefix.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Message, e.Err)
		}
		return e.Message
	}
	return err.Error()
}
