package protocol

import (
	"errors"
	"fmt"
)

// Sentinel errors describing why a client message was rejected.
var (
	// ErrUnknownEvent is returned for event names outside the client set.
	ErrUnknownEvent = errors.New("protocol: unknown event")

	// ErrMalformedFrame is returned when the envelope is not valid JSON.
	ErrMalformedFrame = errors.New("protocol: malformed frame")

	// ErrMalformedPayload is returned when the data does not match the event.
	ErrMalformedPayload = errors.New("protocol: malformed payload")

	// ErrMissingSessionID is returned when a session-scoped event has no id.
	ErrMissingSessionID = errors.New("protocol: missing session id")

	// ErrInvalidDrawing is returned for drawing events without id or with an
	// unknown shape type.
	ErrInvalidDrawing = errors.New("protocol: invalid drawing")

	// ErrFrameTooLarge is returned when a frame exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("protocol: frame too large")
)

// Error is a protocol violation for a single message. It is never fatal for
// the connection that sent it.
type Error struct {
	Event  EventName // Event name as received (may be empty)
	Reason string    // Short human-readable detail
	Err    error     // One of the sentinel errors above
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Event == "" {
		return fmt.Sprintf("%v: %s", e.Err, e.Reason)
	}
	return fmt.Sprintf("%v: %s: %s", e.Err, e.Event, e.Reason)
}

// Unwrap returns the underlying sentinel for errors.Is.
func (e *Error) Unwrap() error {
	return e.Err
}

// Kind returns a low-cardinality label for metrics.
func (e *Error) Kind() string {
	switch {
	case errors.Is(e.Err, ErrUnknownEvent):
		return "unknown_event"
	case errors.Is(e.Err, ErrMalformedFrame):
		return "malformed_frame"
	case errors.Is(e.Err, ErrMissingSessionID):
		return "missing_session_id"
	case errors.Is(e.Err, ErrInvalidDrawing):
		return "invalid_drawing"
	case errors.Is(e.Err, ErrFrameTooLarge):
		return "frame_too_large"
	default:
		return "malformed_payload"
	}
}

func newError(event EventName, err error, format string, args ...any) *Error {
	return &Error{
		Event:  event,
		Reason: fmt.Sprintf(format, args...),
		Err:    err,
	}
}
