// Package protocol implements the JSON event protocol spoken between
// whiteboard clients and the session engine.
//
// Every websocket text frame carries exactly one envelope:
//
//	{"event": "<name>", "sessionId": "<id>", "data": <payload>}
//
// Client frames identify the session inside the payload (the same shape the
// browser client has always sent); server frames carry the session id in the
// envelope so a client joined to several sessions can route them.
//
// # Client events
//
//   - join-session: data is the session id (string)
//   - leave-session: data is the session id
//   - drawing: data is {"sessionId", "data": DrawingEvent}
//   - cursor-move: data is {"sessionId", "cursor": Cursor}
//   - undo, redo, clear-canvas: data is the session id
//   - ping: no data
//
// # Server events
//
//   - session-state: {"drawings": [...]}
//   - user-joined: {"userId", "displayName", "username"}
//   - user-left: {"userId"}
//   - drawing: a DrawingEvent, unknown fields included
//   - cursor-move: a Cursor
//   - undo, redo, canvas-cleared: no data
//
// # Validation
//
// DecodeClient rejects unknown event names and malformed payloads with an
// *Error. Callers drop the offending message and keep the connection open.
package protocol
