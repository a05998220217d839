// Package logging provides structured logging for the One Smart bridge.
//
// It wraps log/slog so that every component logs with the same format,
// level filtering and default fields (service, version).
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("gateway").Info("connected", "channel", "push")
//
// Never log the gateway password or the SHA-1 digest sent to the gateway.
package logging
