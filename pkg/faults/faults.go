// Package faults provides tagged errors for failure classification.
// The kind is attached where the error is raised, so downstream
// classification never has to inspect message text.
package faults

import (
	"errors"
	"fmt"
)

// Kind identifies the failure class of an error.
type Kind string

const (
	// Collection is a metric sub-collector failure, absorbed by the scanner.
	Collection Kind = "collection"
	// Validation is a malformed payload rejected by the capsule store.
	Validation Kind = "validation"
	// Configuration is an invalid configuration value, fatal at startup.
	Configuration Kind = "configuration"
	// Heartbeat is an uncaught failure during a tick.
	Heartbeat Kind = "heartbeat"
	// Renewal is a failure during a renewal cycle.
	Renewal Kind = "renewal"
	// Critical triggers graceful shutdown.
	Critical Kind = "critical"
	// Unknown is returned for errors that carry no kind tag.
	Unknown Kind = "unknown"
)

// Error carries a Kind alongside the underlying error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a tagged error with a formatted message.
func New(kind Kind, op string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap tags an existing error. A nil err returns nil.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first tagged error in err's chain,
// or Unknown if none is tagged.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
