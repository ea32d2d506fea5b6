// Package main is the entry point for the live preview server.
//
// The server fetches pages through a chain of CORS relays, renders them in a
// sandbox with accumulated style and script patches, and streams session
// events to the preview UI.
//
// Configuration:
//   - Environment variables (see internal/infrastructure/config)
//   - CLI flags (override env vars)
//
// Usage:
//
//	# Production mode
//	./server -port 8000
//
//	# Development mode (console logs, debug level)
//	./server -dev
//
//	# Custom relay chain
//	./server -providers providers.yaml
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
