/*
Package server assembles the preview service from configuration.

NewServer wires, in order: logger, metrics, the fetch provider chain (built
from FETCH_PROVIDERS_FILE or the default relays), the sandbox renderer with
its same-origin policy, the session manager, the optional Gemini generator,
and finally the gin router with its middleware, API routes, event stream and
/metrics.

	srv, err := server.NewServer(cfg)
	if err != nil {
		return err
	}
	defer srv.Close()
	return srv.Run(ctx)
*/
package server
