/*
Package ws streams preview session events over WebSocket.

A client connects to /stream?session=:id and receives every session event
(state changes, renders, errors, patches, diagnostics). It may also send
commands:

	{"type": "navigate", "address": "example.com"}
	{"type": "reload"}
	{"type": "patch", "css": "h1{color:red}", "js": ""}
	{"type": "dismiss_error"}
	{"type": "snapshot"}
	{"type": "ping"}

Failed commands are answered with {"type": "command_error", "message": ...}.
*/
package ws
