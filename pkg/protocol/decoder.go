package protocol

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"unicode/utf8"
)

// envelope is the wire shape shared by client and server frames.
type envelope struct {
	Event     EventName       `json:"event"`
	SessionID string          `json:"sessionId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// DecodeClient parses and validates one client frame.
// The returned error is always an *Error.
func DecodeClient(frame []byte) (*ClientMessage, error) {
	if len(frame) > MaxFrameSize {
		return nil, newError("", ErrFrameTooLarge, "%d bytes", len(frame))
	}

	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, newError("", ErrMalformedFrame, "%v", err)
	}
	if !env.Event.IsClientEvent() {
		return nil, newError(env.Event, ErrUnknownEvent, "unrecognized event name")
	}

	msg := &ClientMessage{Event: env.Event}

	switch env.Event {
	case EventPing:
		return msg, nil

	case EventJoinSession, EventLeaveSession, EventUndo, EventRedo, EventClearCanvas:
		id, err := decodeSessionID(env.Event, env.Data, env.SessionID)
		if err != nil {
			return nil, err
		}
		msg.SessionID = id
		return msg, nil

	case EventDrawing:
		var payload struct {
			SessionID string        `json:"sessionId"`
			Data      *DrawingEvent `json:"data"`
		}
		if err := unmarshalPayload(env.Event, env.Data, &payload); err != nil {
			return nil, err
		}
		id, err := validateSessionID(env.Event, firstNonEmpty(payload.SessionID, env.SessionID))
		if err != nil {
			return nil, err
		}
		if payload.Data == nil {
			return nil, newError(env.Event, ErrInvalidDrawing, "missing data")
		}
		if err := validateDrawing(payload.Data); err != nil {
			return nil, err
		}
		msg.SessionID = id
		msg.Drawing = payload.Data
		return msg, nil

	case EventCursorMove:
		var payload struct {
			SessionID string  `json:"sessionId"`
			Cursor    *Cursor `json:"cursor"`
		}
		if err := unmarshalPayload(env.Event, env.Data, &payload); err != nil {
			return nil, err
		}
		id, err := validateSessionID(env.Event, firstNonEmpty(payload.SessionID, env.SessionID))
		if err != nil {
			return nil, err
		}
		if payload.Cursor == nil {
			return nil, newError(env.Event, ErrMalformedPayload, "missing cursor")
		}
		if !finite(payload.Cursor.X) || !finite(payload.Cursor.Y) {
			return nil, newError(env.Event, ErrMalformedPayload, "cursor position out of range")
		}
		msg.SessionID = id
		msg.Cursor = payload.Cursor
		return msg, nil
	}

	return nil, newError(env.Event, ErrUnknownEvent, "unhandled event")
}

// decodeSessionID accepts the bare-string form ("data": "s1"), the object
// form ("data": {"sessionId": "s1"}) and the envelope field.
func decodeSessionID(event EventName, data json.RawMessage, fallback string) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return validateSessionID(event, fallback)
	}

	switch data[0] {
	case '"':
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return "", newError(event, ErrMalformedPayload, "%v", err)
		}
		return validateSessionID(event, id)
	case '{':
		var payload struct {
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return "", newError(event, ErrMalformedPayload, "%v", err)
		}
		return validateSessionID(event, firstNonEmpty(payload.SessionID, fallback))
	default:
		return "", newError(event, ErrMalformedPayload, "session id must be a string")
	}
}

func unmarshalPayload(event EventName, data json.RawMessage, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return newError(event, ErrMalformedPayload, "missing data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return newError(event, ErrMalformedPayload, "%v", err)
	}
	return nil
}

func validateSessionID(event EventName, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", newError(event, ErrMissingSessionID, "session id is required")
	}
	if utf8.RuneCountInString(id) > MaxSessionIDLength {
		return "", newError(event, ErrMalformedPayload, "session id longer than %d characters", MaxSessionIDLength)
	}
	return id, nil
}

func validateDrawing(d *DrawingEvent) error {
	d.ID = strings.TrimSpace(d.ID)
	if d.ID == "" {
		return newError(EventDrawing, ErrInvalidDrawing, "id is required")
	}
	if utf8.RuneCountInString(d.ID) > MaxDrawingIDLength {
		return newError(EventDrawing, ErrInvalidDrawing, "id longer than %d characters", MaxDrawingIDLength)
	}
	if !d.Type.Valid() {
		return newError(EventDrawing, ErrInvalidDrawing, "unknown type %q", d.Type)
	}
	if len(d.Points) > MaxPoints {
		return newError(EventDrawing, ErrInvalidDrawing, "more than %d points", MaxPoints)
	}
	if utf8.RuneCountInString(d.Text) > MaxTextLength {
		return newError(EventDrawing, ErrInvalidDrawing, "text longer than %d characters", MaxTextLength)
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
