package server

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/whiteboard/pkg/auth"
	"github.com/vango-dev/whiteboard/pkg/session"
)

// Conn is one authenticated websocket connection. Its identity is fixed at
// upgrade time and applies to every event it sends.
type Conn struct {
	id        string
	principal auth.Principal
	openedAt  time.Time

	ws      *websocket.Conn
	gateway *Gateway
	config  *Config
	logger  *slog.Logger

	// Outbound frames; drained by writeLoop.
	send  chan []byte
	drops atomic.Int32 // consecutive drops

	// Memberships keyed by session id. Read goroutine only.
	memberships map[string]*session.Membership

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeCode int
	closeText string
}

func newConn(id string, p auth.Principal, ws *websocket.Conn, g *Gateway) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		id:          id,
		principal:   p,
		openedAt:    time.Now(),
		ws:          ws,
		gateway:     g,
		config:      g.config,
		logger:      g.logger.With("conn_id", id, "user_id", p.ID),
		send:        make(chan []byte, g.config.SendQueueSize),
		memberships: make(map[string]*session.Membership),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		closeCode:   websocket.CloseNormalClosure,
	}
}

// ID returns the connection id.
func (c *Conn) ID() string {
	return c.id
}

// Principal returns the identity the connection authenticated as.
func (c *Conn) Principal() auth.Principal {
	return c.principal
}

// Done is closed when the connection starts shutting down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// enqueue offers payload to the outbound queue without blocking.
//
// A droppable frame that does not fit is lost; after SlowClientDropLimit
// consecutive losses the connection is closed so the client reconnects and
// resyncs. A non-droppable frame that does not fit closes the connection
// right away.
func (c *Conn) enqueue(payload []byte, droppable bool) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- payload:
		c.drops.Store(0)
		return nil
	default:
	}

	if !droppable {
		c.evict("required frame did not fit the send queue")
		return ErrSendQueueFull
	}
	if n := c.drops.Add(1); int(n) >= c.config.SlowClientDropLimit {
		c.evict("too many dropped frames")
	}
	return ErrSendQueueFull
}

// evict closes a connection that cannot keep up.
func (c *Conn) evict(reason string) {
	c.closeOnce.Do(func() {
		c.logger.Warn("evicting slow client", "reason", reason, "queued", len(c.send))
		c.gateway.metrics.SlowClientEvicted()
		c.closeCode = websocket.CloseTryAgainLater
		c.closeText = "slow client"
		c.shutdown()
	})
}

// Close starts shutting the connection down. The write loop sends a close
// frame and the read loop then leaves every joined session.
func (c *Conn) Close() {
	c.closeOnce.Do(c.shutdown)
}

func (c *Conn) closeWith(code int, text string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeText = text
		c.shutdown()
	})
}

func (c *Conn) shutdown() {
	close(c.done)
	c.cancel()
}
