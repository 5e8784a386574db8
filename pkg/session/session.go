package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/whiteboard/pkg/metrics"
	"github.com/vango-dev/whiteboard/pkg/protocol"
)

const tracerName = "github.com/vango-dev/whiteboard/pkg/session"

// Participant is one user joined to a session through one connection.
type Participant struct {
	UserID       string    `json:"userId"`
	DisplayName  string    `json:"displayName"`
	ConnectionID string    `json:"connectionId"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// Stats is a point-in-time summary of a session.
type Stats struct {
	ID           string    `json:"id"`
	Participants int       `json:"participants"`
	Drawings     int       `json:"drawings"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Session is the actor owning one canvas. All exported operations are safe
// for concurrent use; they hand work to the actor goroutine and, except for
// MoveCursor, wait for it to be applied.
type Session struct {
	id        string
	createdAt time.Time

	registry *Registry
	router   *Router
	config   *Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer

	// Owned by the actor goroutine.
	participants map[string]Participant
	history      *History

	dispatchCh chan func()
	done       chan struct{}
	closeOnce  sync.Once
	terminated atomic.Bool

	// Mirrors for readers outside the actor.
	participantCount atomic.Int32
	drawingCount     atomic.Int32
}

func newSession(id string, registry *Registry, router *Router, config *Config, logger *slog.Logger, m *metrics.Metrics) *Session {
	s := &Session{
		id:           id,
		createdAt:    time.Now(),
		registry:     registry,
		router:       router,
		config:       config,
		logger:       logger.With("session_id", id),
		metrics:      m,
		tracer:       otel.Tracer(tracerName),
		participants: make(map[string]Participant),
		history:      NewHistory(config.MaxUndoDepth),
		dispatchCh:   make(chan func(), config.QueueSize),
		done:         make(chan struct{}),
	}
	go s.run()
	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Done is closed once the session has terminated.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Terminated reports whether the session has been torn down.
func (s *Session) Terminated() bool {
	select {
	case <-s.done:
		return true
	default:
		return s.terminated.Load()
	}
}

// Stats returns a summary without going through the actor.
func (s *Session) Stats() Stats {
	return Stats{
		ID:           s.id,
		Participants: int(s.participantCount.Load()),
		Drawings:     int(s.drawingCount.Load()),
		CreatedAt:    s.createdAt,
	}
}

// run is the actor loop.
func (s *Session) run() {
	for {
		select {
		case fn := <-s.dispatchCh:
			s.executeDispatch(fn)
			if s.terminated.Load() {
				s.close()
				return
			}

		case <-s.done:
			return
		}
	}
}

// executeDispatch runs fn with panic recovery so one bad operation cannot
// take the actor down.
func (s *Session) executeDispatch(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.ActorPanic()
			s.logger.Error("session panic",
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	fn()
}

// close stops the actor. Pending operations are abandoned and their callers
// get ErrSessionClosed.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.terminated.Store(true)
		close(s.done)
		s.metrics.SessionTerminated()
		s.logger.Debug("session terminated")
	})
}

// dispatch queues fn, waiting for room.
func (s *Session) dispatch(ctx context.Context, fn func()) error {
	if s.Terminated() {
		return ErrSessionClosed
	}
	select {
	case s.dispatchCh <- fn:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tryDispatch queues fn only if there is room right now.
func (s *Session) tryDispatch(fn func()) error {
	if s.Terminated() {
		return ErrSessionClosed
	}
	select {
	case s.dispatchCh <- fn:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		return ErrQueueFull
	}
}

type result[T any] struct {
	value T
	err   error
}

// call runs fn on the actor and waits for its result.
func call[T any](ctx context.Context, s *Session, op string, fn func() (T, error)) (T, error) {
	var zero T

	ctx, span := s.tracer.Start(ctx, "session."+op,
		trace.WithAttributes(attribute.String("whiteboard.session_id", s.id)))
	defer span.End()

	start := time.Now()
	defer func() {
		s.metrics.ObserveOp(op, time.Since(start).Seconds())
	}()

	reply := make(chan result[T], 1)
	wrapped := func() {
		replied := false
		defer func() {
			if !replied {
				reply <- result[T]{err: ErrActorPanic}
			}
		}()
		v, err := fn()
		reply <- result[T]{value: v, err: err}
		replied = true
	}

	fail := func(err error) (T, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return zero, newSessionError(s.id, op, err)
	}

	if err := s.dispatch(ctx, wrapped); err != nil {
		return fail(err)
	}

	select {
	case r := <-reply:
		if r.err != nil {
			return fail(r.err)
		}
		return r.value, nil
	case <-s.done:
		// The operation that terminated the session still replies.
		select {
		case r := <-reply:
			if r.err != nil {
				return fail(r.err)
			}
			return r.value, nil
		default:
			return fail(ErrSessionClosed)
		}
	case <-ctx.Done():
		return fail(ctx.Err())
	}
}

// Join adds p to the session, replacing any earlier entry for the same
// user. The joining connection is sent the current canvas as session-state
// and every other member is told about the newcomer. Join returns the
// canvas it sent.
func (s *Session) Join(ctx context.Context, p Participant) ([]protocol.DrawingEvent, error) {
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now()
	}
	joined := false
	drawings, err := call(ctx, s, "join", func() ([]protocol.DrawingEvent, error) {
		joined = true
		if prev, ok := s.participants[p.UserID]; ok && prev.ConnectionID != p.ConnectionID {
			s.logger.Debug("participant reconnected",
				"user_id", p.UserID,
				"old_conn_id", prev.ConnectionID,
				"conn_id", p.ConnectionID)
		}
		s.participants[p.UserID] = p
		s.participantCount.Store(int32(len(s.participants)))

		drawings := s.history.Drawings()
		if err := s.router.Unicast(p.ConnectionID, protocol.NewSessionState(s.id, drawings)); err != nil {
			s.logger.Warn("session-state not delivered", "conn_id", p.ConnectionID, "error", err)
		}
		s.router.Broadcast(s.id, s.recipients(), protocol.NewUserJoined(s.id, p.UserID, p.DisplayName), p.ConnectionID)

		s.logger.Info("participant joined",
			"user_id", p.UserID,
			"conn_id", p.ConnectionID,
			"participants", len(s.participants))
		return drawings, nil
	})
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		// The caller gave up but the join may still be applied. Queue a
		// removal behind it so no participant is left without an owner.
		go s.dispatch(context.Background(), func() {
			if joined {
				s.removeParticipant(p.UserID, p.ConnectionID)
			}
		})
	}
	return drawings, err
}

// Leave removes userID from the session. When connID is not empty the
// entry is only removed if it still belongs to that connection, so a stale
// connection cannot evict the user's newer one. Leave reports whether a
// participant was removed. Removing the last participant terminates the
// session.
func (s *Session) Leave(ctx context.Context, userID, connID string) (bool, error) {
	return call(ctx, s, "leave", func() (bool, error) {
		return s.removeParticipant(userID, connID), nil
	})
}

// removeParticipant is the body of Leave. Actor only.
func (s *Session) removeParticipant(userID, connID string) bool {
	p, ok := s.participants[userID]
	if !ok {
		return false
	}
	if connID != "" && p.ConnectionID != connID {
		return false
	}

	delete(s.participants, userID)
	s.participantCount.Store(int32(len(s.participants)))

	s.logger.Info("participant left",
		"user_id", userID,
		"conn_id", p.ConnectionID,
		"participants", len(s.participants))

	if len(s.participants) == 0 {
		if s.registry != nil {
			s.registry.RemoveIfEmpty(s)
		}
		s.terminated.Store(true)
		return true
	}

	s.router.Broadcast(s.id, s.recipients(), protocol.NewUserLeft(s.id, userID), "")
	return true
}

// AppendDrawing adds d to the canvas and relays it to every member except
// the sending connection.
func (s *Session) AppendDrawing(ctx context.Context, connID string, d protocol.DrawingEvent) error {
	_, err := call(ctx, s, "drawing", func() (struct{}, error) {
		s.history.Append(d)
		s.drawingCount.Store(int32(s.history.Len()))
		s.router.Broadcast(s.id, s.recipients(), protocol.NewDrawing(s.id, d), connID)
		return struct{}{}, nil
	})
	return err
}

// MoveCursor relays c to every member except the sending connection. It
// does not wait and returns ErrQueueFull if the actor is backed up.
func (s *Session) MoveCursor(connID string, c protocol.Cursor) error {
	err := s.tryDispatch(func() {
		s.router.Broadcast(s.id, s.recipients(), protocol.NewCursorMove(s.id, c), connID)
	})
	return newSessionError(s.id, "cursor", err)
}

// Undo reverts the latest step and notifies every member, the invoker
// included. It reports false when there was nothing to undo.
func (s *Session) Undo(ctx context.Context) (bool, error) {
	return call(ctx, s, "undo", func() (bool, error) {
		if !s.history.Undo() {
			return false, nil
		}
		s.afterHistoryChange(protocol.NewUndo(s.id))
		return true, nil
	})
}

// Redo re-applies the latest undone step and notifies every member. It
// reports false when there was nothing to redo.
func (s *Session) Redo(ctx context.Context) (bool, error) {
	return call(ctx, s, "redo", func() (bool, error) {
		if !s.history.Redo() {
			return false, nil
		}
		s.afterHistoryChange(protocol.NewRedo(s.id))
		return true, nil
	})
}

// Clear wipes the canvas as one undoable step and notifies every member.
// It reports false when the canvas was already empty.
func (s *Session) Clear(ctx context.Context) (bool, error) {
	return call(ctx, s, "clear", func() (bool, error) {
		if !s.history.Clear() {
			return false, nil
		}
		s.drawingCount.Store(0)
		s.router.Broadcast(s.id, s.recipients(), protocol.NewCanvasCleared(s.id), "")
		return true, nil
	})
}

// Snapshot returns the current canvas.
func (s *Session) Snapshot(ctx context.Context) ([]protocol.DrawingEvent, error) {
	return call(ctx, s, "snapshot", func() ([]protocol.DrawingEvent, error) {
		return s.history.Drawings(), nil
	})
}

// Participants returns the members sorted by user id.
func (s *Session) Participants(ctx context.Context) ([]Participant, error) {
	return call(ctx, s, "participants", func() ([]Participant, error) {
		out := make([]Participant, 0, len(s.participants))
		for _, p := range s.participants {
			out = append(out, p)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
		return out, nil
	})
}

// afterHistoryChange runs on the actor after undo or redo.
func (s *Session) afterHistoryChange(notice protocol.Message) {
	s.drawingCount.Store(int32(s.history.Len()))
	recipients := s.recipients()
	s.router.Broadcast(s.id, recipients, notice, "")
	if s.config.ResyncAfterHistoryChange {
		s.router.Broadcast(s.id, recipients, protocol.NewSessionState(s.id, s.history.Drawings()), "")
	}
}

// recipients returns the connection ids of all members. Actor only.
func (s *Session) recipients() []string {
	out := make([]string, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, p.ConnectionID)
	}
	return out
}

// String implements fmt.Stringer for log output.
func (s *Session) String() string {
	return fmt.Sprintf("session(%s)", s.id)
}
