package session

import (
	"log/slog"

	"github.com/vango-dev/whiteboard/pkg/metrics"
	"github.com/vango-dev/whiteboard/pkg/protocol"
)

// Sender delivers an encoded frame to one connection. Implementations must
// not block: a connection that cannot take the frame right away returns an
// error and the frame is lost for that connection.
type Sender interface {
	Send(connID string, payload []byte, droppable bool) error
}

// Router fans outbound events out to session members.
type Router struct {
	sender  Sender
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRouter creates a Router delivering through sender.
func NewRouter(sender Sender, logger *slog.Logger, m *metrics.Metrics) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		sender:  sender,
		logger:  logger.With("component", "router"),
		metrics: m,
	}
}

// Broadcast encodes msg once and offers it to every recipient except
// exclude. It returns the number of connections that accepted the frame.
func (r *Router) Broadcast(sessionID string, recipients []string, msg protocol.Message, exclude string) int {
	if len(recipients) == 0 {
		return 0
	}

	payload, err := msg.Encode()
	if err != nil {
		r.logger.Error("encode broadcast", "session_id", sessionID, "event", msg.Event, "error", err)
		return 0
	}

	droppable := msg.Droppable()
	delivered := 0
	for _, connID := range recipients {
		if connID == "" || connID == exclude {
			continue
		}
		if err := r.sender.Send(connID, payload, droppable); err != nil {
			r.metrics.BroadcastDropped(msg.Event.String())
			r.logger.Debug("broadcast dropped",
				"session_id", sessionID,
				"conn_id", connID,
				"event", msg.Event,
				"error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// Unicast delivers msg to a single connection.
func (r *Router) Unicast(connID string, msg protocol.Message) error {
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	if err := r.sender.Send(connID, payload, msg.Droppable()); err != nil {
		r.metrics.BroadcastDropped(msg.Event.String())
		return err
	}
	return nil
}
