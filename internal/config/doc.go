// Package config loads whiteboard server configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// WHITEBOARD_* environment variables, then command-line flags applied by
// the caller. Validate checks the merged result.
//
// # Configuration File Structure
//
//	server:
//	  address: ":8080"
//	  heartbeatInterval: 30s
//	  sendQueueSize: 256
//	  allowedOrigins: ["https://board.example.com"]
//	session:
//	  maxUndoDepth: 1000
//	  resyncAfterHistoryChange: true
//	auth:
//	  secret: change-me
//	  allowAnonymous: false
//	  externalIssuers: ["https://idp.example.com/realms/board"]
//	log:
//	  level: info
//	  format: json
//	discovery:
//	  enabled: true
//	  instance: studio-a
//
// Every field can also be set from the environment, e.g.
// WHITEBOARD_SERVER_ADDRESS or WHITEBOARD_AUTH_SECRET.
//
// # Usage
//
//	cfg, err := config.Load("whiteboard.yaml")
//	if err != nil {
//	    errors.PrintError(err)
//	    os.Exit(1)
//	}
//	if err := cfg.Validate(); err != nil {
//	    ...
//	}
package config
