package session

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by session operations.
var (
	// ErrSessionClosed is returned when an operation reaches a session that
	// has already been terminated.
	ErrSessionClosed = errors.New("session: closed")

	// ErrQueueFull is returned by best-effort operations that could not be
	// queued without blocking.
	ErrQueueFull = errors.New("session: queue full")

	// ErrRegistryClosed is returned once the registry has been shut down.
	ErrRegistryClosed = errors.New("session: registry closed")

	// ErrActorPanic is returned to the caller of an operation that panicked
	// inside the actor.
	ErrActorPanic = errors.New("session: operation panicked")

	// ErrJoinContention is returned when a join keeps landing on sessions
	// that are being torn down.
	ErrJoinContention = errors.New("session: join contention")
)

// SessionError wraps an error with session context for debugging.
type SessionError struct {
	SessionID string
	Op        string
	Err       error
}

// Error returns the error message with session context.
func (e *SessionError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("session: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("session %s: %s: %v", e.SessionID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *SessionError) Unwrap() error {
	return e.Err
}

func newSessionError(sessionID, op string, err error) error {
	if err == nil {
		return nil
	}
	return &SessionError{SessionID: sessionID, Op: op, Err: err}
}
