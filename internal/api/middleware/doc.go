// Package middleware provides the gin middleware stack for the preview API.
//
// Middleware stack includes:
//   - RequestID: correlation id, echoed in X-Request-ID
//   - Logger: one zap line per request
//   - Recovery: panic recovery with a JSON 500
//   - CORS: cross-origin access for the preview UI
//   - RateLimit: per-IP token bucket with idle client eviction
//   - MaxBody: request body cap (screenshots arrive base64-encoded)
//
// Example Usage:
//
//	router.Use(middleware.RequestID(), middleware.Logger(log), middleware.Recovery(log))
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
