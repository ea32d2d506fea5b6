// Package session drives live preview sessions.
//
// A Controller holds one active page. Navigate fetches the page, normalizes
// it, resets the patch set and renders it; ApplyPatches and ApplyFiles
// append to the patch set and re-render without fetching again.
//
// States:
//
//	Idle --Navigate--> Loading --fetch ok--> Rendered
//	                          \--fetch failed--> Failed (placeholder rendered)
//
// Rendered and Failed both accept another Navigate. Each navigation carries a
// request id and a generation number; starting a new one cancels the
// previous fetch, and a result that arrives for an older generation is
// dropped without touching the session.
//
// Example Usage:
//
//	manager := session.NewManager(session.Options{Fetcher: f, Renderer: r})
//	s := manager.Create()
//	if err := s.Navigate(ctx, "example.org"); err != nil {
//		// the placeholder is rendered; s.Snapshot().Error holds the reason
//	}
//	_ = s.ApplyPatches(ctx, "body{background:#111}", "")
package session
