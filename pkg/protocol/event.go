package protocol

import (
	"encoding/json"
	"strings"
)

// EventName identifies a message on the wire.
type EventName string

// Client → server events.
const (
	EventJoinSession  EventName = "join-session"
	EventLeaveSession EventName = "leave-session"
	EventDrawing      EventName = "drawing"
	EventCursorMove   EventName = "cursor-move"
	EventUndo         EventName = "undo"
	EventRedo         EventName = "redo"
	EventClearCanvas  EventName = "clear-canvas"
	EventPing         EventName = "ping"
)

// Server → client events. drawing, cursor-move, undo and redo reuse the
// client names above.
const (
	EventSessionState  EventName = "session-state"
	EventUserJoined    EventName = "user-joined"
	EventUserLeft      EventName = "user-left"
	EventCanvasCleared EventName = "canvas-cleared"
)

// String returns the wire name.
func (e EventName) String() string {
	return string(e)
}

// IsClientEvent reports whether e may be sent by a client.
func (e EventName) IsClientEvent() bool {
	switch e {
	case EventJoinSession, EventLeaveSession, EventDrawing, EventCursorMove,
		EventUndo, EventRedo, EventClearCanvas, EventPing:
		return true
	default:
		return false
	}
}

// ShapeType is the kind of primitive a DrawingEvent adds to the canvas.
type ShapeType string

const (
	ShapeLine   ShapeType = "line"
	ShapeRect   ShapeType = "rect"
	ShapeCircle ShapeType = "circle"
	ShapeText   ShapeType = "text"
)

// Valid reports whether t is a known shape.
func (t ShapeType) Valid() bool {
	switch t {
	case ShapeLine, ShapeRect, ShapeCircle, ShapeText:
		return true
	default:
		return false
	}
}

// DrawingEvent is one atomic stroke, shape or text addition. The engine only
// looks at ID, Type and UserID; geometry and style are carried through, and
// so is any field the struct does not name (see Extra).
type DrawingEvent struct {
	ID     string    `json:"id"`
	Type   ShapeType `json:"type"`
	UserID string    `json:"userId"`

	// Geometry
	Points []float64 `json:"points,omitempty"`
	X      *float64  `json:"x,omitempty"`
	Y      *float64  `json:"y,omitempty"`
	Width  *float64  `json:"width,omitempty"`
	Height *float64  `json:"height,omitempty"`
	Radius *float64  `json:"radius,omitempty"`

	// Style
	Stroke      string   `json:"stroke,omitempty"`
	StrokeWidth *float64 `json:"strokeWidth,omitempty"`
	Fill        string   `json:"fill,omitempty"`
	Text        string   `json:"text,omitempty"`

	// Extra holds the fields not named above, verbatim.
	Extra map[string]json.RawMessage `json:"-"`
}

// drawingFields has the fields of DrawingEvent without its methods.
type drawingFields DrawingEvent

var drawingKeys = []string{
	"id", "type", "userId",
	"points", "x", "y", "width", "height", "radius",
	"stroke", "strokeWidth", "fill", "text",
}

func isDrawingKey(key string) bool {
	for _, k := range drawingKeys {
		// encoding/json matches field names case-insensitively.
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}

// UnmarshalJSON decodes the named fields and keeps the rest in Extra.
func (d *DrawingEvent) UnmarshalJSON(b []byte) error {
	var known drawingFields
	if err := json.Unmarshal(b, &known); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	known.Extra = nil
	for k, v := range all {
		if isDrawingKey(k) {
			continue
		}
		if known.Extra == nil {
			known.Extra = make(map[string]json.RawMessage)
		}
		known.Extra[k] = v
	}
	*d = DrawingEvent(known)
	return nil
}

// MarshalJSON writes the named fields merged with Extra. A named field
// always wins over an Extra entry of the same name.
func (d DrawingEvent) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(drawingFields(d))
	if err != nil || len(d.Extra) == 0 {
		return b, err
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(b, &merged); err != nil {
		return nil, err
	}
	for k, v := range d.Extra {
		if isDrawingKey(k) {
			continue
		}
		merged[k] = v
	}
	return json.Marshal(merged)
}

// Cursor is a transient pointer position relayed to other participants.
// DisplayName and Username carry the same name; username is kept for
// clients that predate displayName.
type Cursor struct {
	UserID      string  `json:"userId"`
	DisplayName string  `json:"displayName"`
	Username    string  `json:"username"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Color       string  `json:"color,omitempty"`
}

// ClientMessage is a validated client event.
type ClientMessage struct {
	Event     EventName
	SessionID string

	// Drawing is set for EventDrawing.
	Drawing *DrawingEvent

	// Cursor is set for EventCursorMove.
	Cursor *Cursor
}

// SessionStatePayload is the data of a session-state event.
type SessionStatePayload struct {
	Drawings []DrawingEvent `json:"drawings"`
}

// UserJoinedPayload is the data of a user-joined event.
type UserJoinedPayload struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Username    string `json:"username"`
}

// UserLeftPayload is the data of a user-left event.
type UserLeftPayload struct {
	UserID string `json:"userId"`
}
