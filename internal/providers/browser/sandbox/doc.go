/*
Package sandbox renders composed preview documents inside an isolation
boundary.

# Grants

A Grant is the set of capabilities a document receives. The default is
scripts only: the document runs with an opaque origin, cannot read storage or
cookies, cannot open popups and can never navigate the top-level window.

	grant := sandbox.DefaultGrant()
	grant.IframeAttr() // "allow-scripts"
	grant.CSPHeader()  // "sandbox allow-scripts"

A Policy widens the default per target host. Same-origin is only added for
hosts that match an operator allowlist pattern (doublestar globs such as
"*.example.com").

# Rendering

Render parses the composed document, creates a Handle and runs the
composer's guarded patch scripts in a fresh goja runtime on its own
goroutine. Scripts that arrived with the fetched page are part of the DOM
but never execute on the server. The runtime's globals mirror the grant:

  - fetch, XMLHttpRequest, WebSocket and sendBeacon throw a SecurityError
  - localStorage, sessionStorage and document.cookie throw unless same-origin
    is granted, and even then are throwaway in-memory stores
  - window.open throws unless popups are granted
  - top.location assignment always throws
  - timers are recorded and never fire
  - parent.postMessage is the diagnostic channel

Each patch runs under its own timeout; a patch that throws, fails to parse or
times out is recorded and the next patch still runs.

	doc := compose.Build(frag, set)
	handle, err := renderer.Render(ctx, doc, grant)
	defer handle.Close()
	_ = handle.Wait(ctx)
	for _, d := range handle.Diagnostics() {
		log.Println(d.Kind, d.Patch, d.Message)
	}

A runtime serves exactly one handle. Closing the handle interrupts it and
nothing carries over to the next render.
*/
package sandbox
