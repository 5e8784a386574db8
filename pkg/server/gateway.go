package server

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-dev/whiteboard/pkg/auth"
	"github.com/vango-dev/whiteboard/pkg/metrics"
	"github.com/vango-dev/whiteboard/pkg/session"
)

// Gateway accepts websocket connections, tracks them by id and delivers
// outbound frames. It implements session.Sender.
type Gateway struct {
	config   *Config
	registry *session.Registry
	upgrader websocket.Upgrader
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu     sync.RWMutex
	conns  map[string]*Conn
	closed bool
	wg     sync.WaitGroup
}

var _ session.Sender = (*Gateway)(nil)

func newGateway(config *Config, logger *slog.Logger, m *metrics.Metrics) *Gateway {
	return &Gateway{
		config: config,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: config.HandshakeTimeout,
			ReadBufferSize:   config.ReadBufferSize,
			WriteBufferSize:  config.WriteBufferSize,
			CheckOrigin:      config.CheckOrigin,
		},
		logger:  logger.With("component", "gateway"),
		metrics: m,
		conns:   make(map[string]*Conn),
	}
}

// Send queues payload for one connection. It never blocks; see
// Conn.enqueue for what happens when the queue is full.
func (g *Gateway) Send(connID string, payload []byte, droppable bool) error {
	g.mu.RLock()
	c, ok := g.conns[connID]
	g.mu.RUnlock()
	if !ok {
		return ErrConnectionNotFound
	}
	return c.enqueue(payload, droppable)
}

// ServeHTTP upgrades an authenticated request and serves the connection
// until it closes. The request must carry a Principal (see auth.Middleware).
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		g.metrics.AuthFailure(auth.Reason(auth.ErrNoCredential))
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		g.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	c := newConn(uuid.NewString(), p, ws, g)
	if !g.add(c) {
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(g.config.WriteTimeout))
		ws.Close()
		return
	}
	defer g.wg.Done()

	c.logger.Info("connection opened",
		"remote_addr", r.RemoteAddr,
		"user", p.Name,
		"source", p.Source)

	go c.writeLoop()
	c.readLoop()
}

// add registers c. It fails once the gateway is closed.
func (g *Gateway) add(c *Conn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.conns[c.id] = c
	g.wg.Add(1)
	g.metrics.ConnectionOpened()
	return true
}

func (g *Gateway) remove(c *Conn) {
	g.mu.Lock()
	if cur, ok := g.conns[c.id]; ok && cur == c {
		delete(g.conns, c.id)
		g.metrics.ConnectionClosed()
	}
	g.mu.Unlock()
}

// Count returns the number of open connections.
func (g *Gateway) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

// Connections returns the ids of all open connections, sorted.
func (g *Gateway) Connections() []string {
	g.mu.RLock()
	out := make([]string, 0, len(g.conns))
	for id := range g.conns {
		out = append(out, id)
	}
	g.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Close refuses new connections, closes the open ones and waits until each
// has left its sessions or ctx is done.
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	conns := make([]*Conn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	for _, c := range conns {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}

	finished := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
