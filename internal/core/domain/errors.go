package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrUnknownAction     = errors.New("unknown action")
	ErrValidation        = errors.New("validation failed")
	ErrUnreachable       = errors.New("agent service unreachable")
	ErrBadGateway        = errors.New("invalid response from agent service")
	ErrAgentPaused       = errors.New("agent is paused")
	ErrAgentStopping     = errors.New("agent is stopping")
)

// RemoteError is a worker response with status >= 400. Body is kept verbatim.
type RemoteError struct {
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("agent service returned status %d: %s", e.StatusCode, e.Body)
}

// Error pairs one of the sentinel kinds above with the message API callers
// see. errors.Is matches the kind; errors.Unwrap yields the cause, if any.
type Error struct {
	Kind   error
	Detail string
	Err    error
}

func NewError(kind error, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

func WrapError(kind error, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Detail + ": " + e.Err.Error()
	}
	return e.Detail
}

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }
