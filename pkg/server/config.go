package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vango-dev/whiteboard/pkg/protocol"
	"github.com/vango-dev/whiteboard/pkg/session"
)

// Config holds configuration for the HTTP/WebSocket server.
type Config struct {
	// Address is the address to listen on (e.g., ":8080").
	// Default: ":8080".
	Address string

	// Timeouts

	// ReadTimeout is the longest a connection may stay silent. Heartbeat
	// pongs count as traffic.
	// Default: 60 seconds.
	ReadTimeout time.Duration

	// WriteTimeout bounds a single websocket write.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// HandshakeTimeout bounds the websocket upgrade.
	// Default: 10 seconds.
	HandshakeTimeout time.Duration

	// HeartbeatInterval is the time between heartbeat pings. Must be
	// shorter than ReadTimeout.
	// Default: 30 seconds.
	HeartbeatInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 15 seconds.
	ShutdownTimeout time.Duration

	// WebSocket buffer sizes

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// Limits

	// MaxMessageSize is the maximum size of an incoming WebSocket message.
	// Larger messages close the connection.
	// Default: protocol.MaxFrameSize.
	MaxMessageSize int64

	// SendQueueSize is the capacity of each connection's outbound queue.
	// Default: 256.
	SendQueueSize int

	// SlowClientDropLimit is the number of consecutive dropped frames after
	// which a connection is closed.
	// Default: 64.
	SlowClientDropLimit int

	// Security

	// AllowAnonymous admits connections that carry no credential.
	AllowAnonymous bool

	// CheckOrigin is called to validate the request origin.
	// Default: SameOriginCheck.
	CheckOrigin func(r *http.Request) bool

	// EnableDebug mounts /debug/sessions.
	EnableDebug bool

	// Session configures the session actors.
	// Default: session.DefaultConfig().
	Session *session.Config
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Address:             ":8080",
		ReadTimeout:         60 * time.Second,
		WriteTimeout:        10 * time.Second,
		HandshakeTimeout:    10 * time.Second,
		HeartbeatInterval:   30 * time.Second,
		ShutdownTimeout:     15 * time.Second,
		ReadBufferSize:      4096,
		WriteBufferSize:     4096,
		MaxMessageSize:      protocol.MaxFrameSize,
		SendQueueSize:       256,
		SlowClientDropLimit: 64,
		CheckOrigin:         SameOriginCheck,
		Session:             session.DefaultConfig(),
	}
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Session != nil {
		clone.Session = c.Session.Clone()
	}
	return &clone
}

// withDefaults returns a copy with every unset field filled in.
func (c *Config) withDefaults() *Config {
	defaults := DefaultConfig()
	if c == nil {
		return defaults
	}
	out := c.Clone()
	if out.Address == "" {
		out.Address = defaults.Address
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = defaults.ReadTimeout
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = defaults.WriteTimeout
	}
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if out.HeartbeatInterval <= 0 {
		out.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if out.ShutdownTimeout <= 0 {
		out.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if out.ReadBufferSize <= 0 {
		out.ReadBufferSize = defaults.ReadBufferSize
	}
	if out.WriteBufferSize <= 0 {
		out.WriteBufferSize = defaults.WriteBufferSize
	}
	if out.MaxMessageSize <= 0 {
		out.MaxMessageSize = defaults.MaxMessageSize
	}
	if out.SendQueueSize <= 0 {
		out.SendQueueSize = defaults.SendQueueSize
	}
	if out.SlowClientDropLimit <= 0 {
		out.SlowClientDropLimit = defaults.SlowClientDropLimit
	}
	if out.CheckOrigin == nil {
		out.CheckOrigin = defaults.CheckOrigin
	}
	if out.Session == nil {
		out.Session = defaults.Session
	}
	return out
}

// SameOriginCheck validates that the WebSocket request origin matches the host.
// This is the default CheckOrigin.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// No Origin header (e.g., native clients or curl)
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := r.Host
	if host == "" {
		return false
	}
	return originURL.Host == host
}

// AllowOrigins returns a CheckOrigin that accepts same-origin requests and
// requests whose Origin is one of origins. "*" accepts everything.
func AllowOrigins(origins ...string) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			allowed[strings.ToLower(o)] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		if SameOriginCheck(r) {
			return true
		}
		_, ok := allowed[strings.ToLower(strings.TrimRight(r.Header.Get("Origin"), "/"))]
		return ok
	}
}
