package server

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/whiteboard/pkg/protocol"
	"github.com/vango-dev/whiteboard/pkg/session"
)

// readLoop reads client frames until the connection fails or closes, then
// leaves every session the connection joined. It blocks.
func (c *Conn) readLoop() {
	defer c.teardown()

	c.ws.SetReadLimit(c.config.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	})

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.logger.Warn("read error", "error", err)
			} else {
				c.logger.Debug("read loop finished", "error", err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		c.handleFrame(msg)
	}
}

// writeLoop drains the send queue and sends heartbeats. It owns every
// data write on the socket.
func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Error("write error", "error", err)
				c.Close()
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(c.config.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("ping failed", "error", err)
				c.Close()
				return
			}

		case <-c.done:
			deadline := time.Now().Add(c.config.WriteTimeout)
			msg := websocket.FormatCloseMessage(c.closeCode, c.closeText)
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
			return
		}
	}
}

// teardown runs once the read loop has stopped.
func (c *Conn) teardown() {
	c.Close()

	// Leave with a fresh context: the connection context is already
	// canceled and every leave must reach its session.
	for id, m := range c.memberships {
		if err := m.Revoke(context.Background()); err != nil {
			c.logger.Warn("leave on disconnect failed", "session_id", id, "error", err)
		}
		delete(c.memberships, id)
	}

	c.gateway.remove(c)
	c.logger.Info("connection closed", "duration", time.Since(c.openedAt).Round(time.Millisecond))
}

// handleFrame decodes one client frame and dispatches it. Invalid frames
// are logged and dropped; the connection stays open.
func (c *Conn) handleFrame(frame []byte) {
	msg, err := protocol.DecodeClient(frame)
	if err != nil {
		kind := "malformed_frame"
		var perr *protocol.Error
		if errors.As(err, &perr) {
			kind = perr.Kind()
		}
		c.gateway.metrics.ProtocolError(kind)
		c.logger.Warn("dropping invalid message", "reason", kind, "error", err)
		return
	}
	c.gateway.metrics.EventReceived(msg.Event.String())

	switch msg.Event {
	case protocol.EventPing:
		c.logger.Debug("ping")

	case protocol.EventJoinSession:
		c.join(msg.SessionID)

	case protocol.EventLeaveSession:
		c.leave(msg.SessionID)

	case protocol.EventDrawing:
		d := *msg.Drawing
		d.UserID = c.principal.ID
		c.withSession(msg, func(s *session.Session) error {
			return s.AppendDrawing(c.ctx, c.id, d)
		})

	case protocol.EventCursorMove:
		cur := *msg.Cursor
		cur.UserID = c.principal.ID
		cur.DisplayName = c.principal.Name
		cur.Username = c.principal.Name
		c.withSession(msg, func(s *session.Session) error {
			err := s.MoveCursor(c.id, cur)
			if errors.Is(err, session.ErrQueueFull) {
				return nil
			}
			return err
		})

	case protocol.EventUndo:
		c.withSession(msg, func(s *session.Session) error {
			_, err := s.Undo(c.ctx)
			return err
		})

	case protocol.EventRedo:
		c.withSession(msg, func(s *session.Session) error {
			_, err := s.Redo(c.ctx)
			return err
		})

	case protocol.EventClearCanvas:
		c.withSession(msg, func(s *session.Session) error {
			_, err := s.Clear(c.ctx)
			return err
		})
	}
}

// withSession runs fn against the live session msg names. Events for a
// session that does not exist are ignored.
func (c *Conn) withSession(msg *protocol.ClientMessage, fn func(*session.Session) error) {
	s, ok := c.gateway.registry.Lookup(msg.SessionID)
	if !ok {
		c.logger.Debug("event for unknown session", "event", msg.Event, "session_id", msg.SessionID)
		return
	}
	if err := fn(s); err != nil {
		if errors.Is(err, session.ErrSessionClosed) || errors.Is(err, context.Canceled) {
			c.logger.Debug("event not applied", "event", msg.Event, "session_id", msg.SessionID, "error", err)
			return
		}
		c.logger.Error("event failed", "event", msg.Event, "session_id", msg.SessionID, "error", err)
	}
}

// join adds the connection's user to a session. Joining a session the
// connection already belongs to refreshes the membership and resends the
// canvas.
func (c *Conn) join(sessionID string) {
	p := session.Participant{
		UserID:       c.principal.ID,
		DisplayName:  c.principal.Name,
		ConnectionID: c.id,
	}
	// Membership changes must complete even if the connection is evicted
	// while they are queued; teardown can only revoke a stored handle.
	m, drawings, err := c.gateway.registry.Join(context.WithoutCancel(c.ctx), sessionID, p)
	if err != nil {
		c.logger.Error("join failed", "session_id", sessionID, "error", err)
		return
	}

	// An earlier handle for the same session id either points at the same
	// live session (the new join replaced it in place) or at one that has
	// since terminated. Neither needs a leave.
	c.memberships[sessionID] = m
	c.logger.Debug("joined session", "session_id", sessionID, "drawings", len(drawings))
}

// leave removes the connection's user from a session it joined.
func (c *Conn) leave(sessionID string) {
	m, ok := c.memberships[sessionID]
	if !ok {
		c.logger.Debug("leave for session not joined", "session_id", sessionID)
		return
	}
	delete(c.memberships, sessionID)
	if err := m.Revoke(context.WithoutCancel(c.ctx)); err != nil {
		c.logger.Error("leave failed", "session_id", sessionID, "error", err)
	}
}
