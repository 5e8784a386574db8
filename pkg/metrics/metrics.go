// Package metrics exposes Prometheus instrumentation for the whiteboard
// engine. All recording methods are safe to call on a nil *Metrics, so
// components can run uninstrumented in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "whiteboard").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for operation duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registerer to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the collectors.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registerer.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "whiteboard",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the engine's collectors.
type Metrics struct {
	activeSessions      prometheus.Gauge
	sessionsCreated     prometheus.Counter
	activeConnections   prometheus.Gauge
	eventsReceived      *prometheus.CounterVec
	protocolErrors      *prometheus.CounterVec
	authFailures        *prometheus.CounterVec
	broadcastsDropped   *prometheus.CounterVec
	opDuration          *prometheus.HistogramVec
	actorPanics         prometheus.Counter
	slowClientEvictions prometheus.Counter
}

// New registers the collectors and returns them.
// Registering twice on the same registry panics, as with promauto.
func New(opts ...Option) *Metrics {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.Registry == nil {
		config.Registry = prometheus.DefaultRegisterer
	}
	if len(config.Buckets) == 0 {
		config.Buckets = prometheus.DefBuckets
	}

	factory := promauto.With(config.Registry)

	return &Metrics{
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_sessions",
			Help:        "Number of sessions with at least one participant",
			ConstLabels: config.ConstLabels,
		}),

		sessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "sessions_created_total",
			Help:        "Total number of sessions created",
			ConstLabels: config.ConstLabels,
		}),

		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_connections",
			Help:        "Number of open websocket connections",
			ConstLabels: config.ConstLabels,
		}),

		eventsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "events_received_total",
			Help:        "Total number of valid client events by name",
			ConstLabels: config.ConstLabels,
		}, []string{"event"}),

		protocolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "protocol_errors_total",
			Help:        "Total number of dropped client messages by reason",
			ConstLabels: config.ConstLabels,
		}, []string{"reason"}),

		authFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "auth_failures_total",
			Help:        "Total number of rejected connection attempts by reason",
			ConstLabels: config.ConstLabels,
		}, []string{"reason"}),

		broadcastsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "broadcasts_dropped_total",
			Help:        "Total number of per-recipient deliveries shed under backpressure",
			ConstLabels: config.ConstLabels,
		}, []string{"event"}),

		opDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "session_op_duration_seconds",
			Help:        "Time from hand-off to completion of session operations",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"op"}),

		actorPanics: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "session_panics_total",
			Help:        "Total number of recovered panics inside session actors",
			ConstLabels: config.ConstLabels,
		}),

		slowClientEvictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "slow_client_evictions_total",
			Help:        "Total number of connections closed for a persistently full send queue",
			ConstLabels: config.ConstLabels,
		}),
	}
}

// SessionCreated records a new session actor.
func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
	m.activeSessions.Inc()
}

// SessionTerminated records a session actor being torn down.
func (m *Metrics) SessionTerminated() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// ConnectionOpened records an accepted websocket connection.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
}

// ConnectionClosed records a websocket connection teardown.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

// EventReceived records a decoded client event.
func (m *Metrics) EventReceived(event string) {
	if m == nil {
		return
	}
	m.eventsReceived.WithLabelValues(event).Inc()
}

// ProtocolError records a dropped client message.
func (m *Metrics) ProtocolError(reason string) {
	if m == nil {
		return
	}
	m.protocolErrors.WithLabelValues(reason).Inc()
}

// AuthFailure records a rejected connection attempt.
func (m *Metrics) AuthFailure(reason string) {
	if m == nil {
		return
	}
	m.authFailures.WithLabelValues(reason).Inc()
}

// BroadcastDropped records one delivery shed for a slow recipient.
func (m *Metrics) BroadcastDropped(event string) {
	if m == nil {
		return
	}
	m.broadcastsDropped.WithLabelValues(event).Inc()
}

// ObserveOp records how long a session operation took.
func (m *Metrics) ObserveOp(op string, seconds float64) {
	if m == nil {
		return
	}
	m.opDuration.WithLabelValues(op).Observe(seconds)
}

// ActorPanic records a recovered panic in a session actor.
func (m *Metrics) ActorPanic() {
	if m == nil {
		return
	}
	m.actorPanics.Inc()
}

// SlowClientEvicted records a connection closed for backpressure.
func (m *Metrics) SlowClientEvicted() {
	if m == nil {
		return
	}
	m.slowClientEvictions.Inc()
}
