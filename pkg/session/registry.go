package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/vango-dev/whiteboard/pkg/metrics"
	"github.com/vango-dev/whiteboard/pkg/protocol"
)

// maxJoinAttempts bounds how often Join retries after landing on a session
// that terminated underneath it.
const maxJoinAttempts = 8

// Registry maps session ids to live session actors. It is the only place
// sessions are created and forgotten.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	router  *Router
	config  *Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	totalCreated atomic.Uint64
}

// NewRegistry creates an empty registry whose sessions broadcast through
// router.
func NewRegistry(router *Router, config *Config, logger *slog.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		router:   router,
		config:   config.normalize(),
		logger:   logger.With("component", "session_registry"),
		metrics:  m,
	}
}

// GetOrCreate returns the live session for id, creating an empty one if
// there is none. Concurrent callers for the same unknown id all get the
// same instance.
func (r *Registry) GetOrCreate(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}
	if s, ok := r.sessions[id]; ok && !s.Terminated() {
		return s, nil
	}

	s := newSession(id, r, r.router, r.config, r.logger, r.metrics)
	r.sessions[id] = s
	r.totalCreated.Add(1)
	r.metrics.SessionCreated()
	r.logger.Debug("session created", "session_id", id)
	return s, nil
}

// Lookup returns the live session for id without creating one.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok || s.Terminated() {
		return nil, false
	}
	return s, true
}

// RemoveIfEmpty forgets s if it has no participants and is still the
// session registered under its id. It reports whether s was removed.
// Sessions call it when their last participant leaves.
func (r *Registry) RemoveIfEmpty(s *Session) bool {
	if s.participantCount.Load() != 0 {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.sessions[s.id]; !ok || cur != s {
		return false
	}
	delete(r.sessions, s.id)
	r.logger.Debug("session removed", "session_id", s.id)
	return true
}

// Join adds p to session id, creating the session if needed. If the session
// terminates between lookup and join, Join retries on a fresh one.
func (r *Registry) Join(ctx context.Context, id string, p Participant) (*Membership, []protocol.DrawingEvent, error) {
	for attempt := 0; attempt < maxJoinAttempts; attempt++ {
		s, err := r.GetOrCreate(id)
		if err != nil {
			return nil, nil, err
		}

		drawings, err := s.Join(ctx, p)
		if errors.Is(err, ErrSessionClosed) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}

		return &Membership{session: s, userID: p.UserID, connID: p.ConnectionID}, drawings, nil
	}
	return nil, nil, newSessionError(id, "join", ErrJoinContention)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// TotalCreated returns how many sessions have been created since start.
func (r *Registry) TotalCreated() uint64 {
	return r.totalCreated.Load()
}

// Sessions returns a summary of every live session, sorted by id.
func (r *Registry) Sessions() []Stats {
	r.mu.Lock()
	out := make([]Stats, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Stats())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Shutdown terminates every session and refuses new ones.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
	r.logger.Info("registry shut down", "sessions", len(sessions))
}

// Membership is a revocable handle on one participant's place in a session.
type Membership struct {
	session *Session
	userID  string
	connID  string
	revoked atomic.Bool
}

// Session returns the session the membership belongs to.
func (m *Membership) Session() *Session {
	return m.session
}

// SessionID returns the id of the session.
func (m *Membership) SessionID() string {
	return m.session.ID()
}

// Revoked reports whether Revoke has been called.
func (m *Membership) Revoked() bool {
	return m.revoked.Load()
}

// Revoke leaves the session. Only the first call has any effect. Revoking
// a membership whose session already terminated is not an error.
//
// Cancellation of ctx is ignored: once revoked, the leave always runs.
func (m *Membership) Revoke(ctx context.Context) error {
	if !m.revoked.CompareAndSwap(false, true) {
		return nil
	}
	_, err := m.session.Leave(context.WithoutCancel(ctx), m.userID, m.connID)
	if errors.Is(err, ErrSessionClosed) {
		return nil
	}
	return err
}
