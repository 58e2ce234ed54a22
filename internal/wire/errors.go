package wire

import (
	"errors"
	"fmt"
)

// ErrOversizeFrame is returned when a frame's declared length exceeds the
// limit for its frame type.
var ErrOversizeFrame = errors.New("wire: frame exceeds maximum size")

// ErrUnknownCommand is returned for a request whose command field doesn't
// match any registered handler.
var ErrUnknownCommand = errors.New("wire: unknown command")

// ErrConnectionClosed signals a clean EOF on the connection, distinct from
// a genuine read failure.
var ErrConnectionClosed = errors.New("wire: connection closed")

// ValidationError wraps a jsonschema failure for a specific command,
// returned to the client as a status=error response rather than closing
// the connection, matching the wire protocol's "ValidationError on wire"
// contract.
type ValidationError struct {
	Command string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("wire: validation error for command %q: %v", e.Command, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func newValidationError(command string, err error) *ValidationError {
	return &ValidationError{Command: command, Err: err}
}
