// Package api implements the HTTP REST API and WebSocket server of the
// bridge.
//
// This package provides:
//   - Read access to the gateway cache and entity descriptors
//   - Command and refresh endpoints sharing the MQTT bridge's dispatcher
//   - Apparatus and command history from the local database
//   - WebSocket hub relaying cache change notifications
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - Prometheus metrics when a handler is supplied
//
// # Graceful Degradation
//
// The server operates without MQTT or history: reads, commands and
// WebSocket connections work, and history endpoints answer 503.
package api
