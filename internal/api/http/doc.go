// Package http exposes preview sessions over a gin JSON API.
//
// Sessions are created, navigated and patched here; the composed document
// is served from /sessions/:id/frame with the sandbox policy as response
// headers, gzip-compressed when the client accepts it.
package http
