// Package server is the network edge of the whiteboard engine.
//
// A Server mounts the websocket endpoint and the operational HTTP routes on
// a chi router:
//
//	GET /ws              websocket, authenticated by auth.Middleware
//	GET /healthz         liveness with session and connection counts
//	GET /metrics         Prometheus exposition
//	GET /debug/sessions  live sessions (only with EnableDebug)
//
// # Connections
//
// The Gateway upgrades authenticated requests and gives each connection a
// uuid. Every Conn runs two goroutines:
//
//   - the read loop decodes client events with pkg/protocol and hands them
//     to the session registry; invalid messages are logged and dropped
//   - the write loop drains a bounded send queue and sends heartbeat pings
//
// When the read loop ends, for whatever reason, the connection leaves every
// session it joined.
//
// # Backpressure
//
// Gateway.Send never blocks. A frame that does not fit a connection's queue
// is dropped for that connection only. A connection that drops
// SlowClientDropLimit frames in a row, or that cannot take a session-state
// frame, is closed; the client is expected to reconnect and rejoin, which
// resends the full canvas.
//
// # Usage
//
//	cfg := server.DefaultConfig()
//	srv := server.New(cfg, auth.Chain{auth.NewLocalValidator(secret)},
//	    server.WithLogger(logger),
//	    server.WithMetrics(metrics.New(), prometheus.DefaultGatherer),
//	)
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server
