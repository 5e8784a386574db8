package protocol

import (
	"encoding/json"
	"fmt"
)

// Message is an outbound server event.
type Message struct {
	Event     EventName
	SessionID string
	Data      any // nil for payload-less events
}

type outEnvelope struct {
	Event     EventName `json:"event"`
	SessionID string    `json:"sessionId,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// Encode returns the JSON frame for m.
func (m Message) Encode() ([]byte, error) {
	b, err := json.Marshal(outEnvelope{
		Event:     m.Event,
		SessionID: m.SessionID,
		Data:      m.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", m.Event, err)
	}
	return b, nil
}

// Droppable reports whether a recipient with a full queue may skip m.
// Only session-state is authoritative enough to require delivery.
func (m Message) Droppable() bool {
	return m.Event != EventSessionState
}

// NewSessionState builds the session-state event. A nil history is sent as
// an empty array.
func NewSessionState(sessionID string, drawings []DrawingEvent) Message {
	if drawings == nil {
		drawings = []DrawingEvent{}
	}
	return Message{
		Event:     EventSessionState,
		SessionID: sessionID,
		Data:      SessionStatePayload{Drawings: drawings},
	}
}

// NewUserJoined builds the user-joined event.
func NewUserJoined(sessionID, userID, displayName string) Message {
	return Message{
		Event:     EventUserJoined,
		SessionID: sessionID,
		Data:      UserJoinedPayload{UserID: userID, DisplayName: displayName, Username: displayName},
	}
}

// NewUserLeft builds the user-left event.
func NewUserLeft(sessionID, userID string) Message {
	return Message{
		Event:     EventUserLeft,
		SessionID: sessionID,
		Data:      UserLeftPayload{UserID: userID},
	}
}

// NewDrawing builds the drawing relay event.
func NewDrawing(sessionID string, d DrawingEvent) Message {
	return Message{Event: EventDrawing, SessionID: sessionID, Data: d}
}

// NewCursorMove builds the cursor relay event.
func NewCursorMove(sessionID string, c Cursor) Message {
	return Message{Event: EventCursorMove, SessionID: sessionID, Data: c}
}

// NewUndo builds the payload-less undo notification.
func NewUndo(sessionID string) Message {
	return Message{Event: EventUndo, SessionID: sessionID}
}

// NewRedo builds the payload-less redo notification.
func NewRedo(sessionID string) Message {
	return Message{Event: EventRedo, SessionID: sessionID}
}

// NewCanvasCleared builds the canvas-cleared notification.
func NewCanvasCleared(sessionID string) Message {
	return Message{Event: EventCanvasCleared, SessionID: sessionID}
}

// EncodeClient builds a client frame. It is used by tests and tooling that
// drive the server the way a browser client does.
func EncodeClient(event EventName, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("protocol: encode %s: %w", event, err)
		}
		raw = b
	}
	return json.Marshal(envelope{Event: event, Data: raw})
}
