package server

import "errors"

// Sentinel errors for connection-level conditions.
var (
	// ErrSendQueueFull is returned by Send when a connection's outbound
	// queue cannot take another frame. The frame is dropped.
	ErrSendQueueFull = errors.New("server: send queue full")

	// ErrConnectionClosed is returned when sending to a connection that is
	// shutting down.
	ErrConnectionClosed = errors.New("server: connection closed")

	// ErrConnectionNotFound is returned when a connection id is unknown.
	ErrConnectionNotFound = errors.New("server: connection not found")

	// ErrServerClosed is returned by Run after Shutdown.
	ErrServerClosed = errors.New("server: closed")
)
