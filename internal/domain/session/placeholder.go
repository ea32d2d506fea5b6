package session

import (
	"strings"

	"github.com/GriffinCanCode/webmodder/internal/providers/browser/markup"
	"github.com/microcosm-cc/bluemonday"
)

var strict = bluemonday.StrictPolicy()

const placeholderStyle = `body{margin:0;display:flex;align-items:center;justify-content:center;min-height:100vh;` +
	`font-family:system-ui,-apple-system,sans-serif;background:#f8fafc;color:#334155}` +
	`.unavailable{max-width:36rem;padding:2rem;text-align:center}` +
	`.unavailable h1{font-size:1.25rem;margin:0 0 .75rem}` +
	`.unavailable code{word-break:break-all}` +
	`.unavailable .reason{color:#b91c1c;font-size:.875rem}`

// Placeholder renders the local page shown when a target could not be
// fetched. It references no external resources and carries no scripts.
func Placeholder(target, reason string) markup.Fragments {
	var body strings.Builder
	body.WriteString(`<div class="unavailable">`)
	body.WriteString(`<h1>This page could not be accessed</h1>`)
	body.WriteString(`<p><code>`)
	body.WriteString(strict.Sanitize(target))
	body.WriteString(`</code></p>`)
	if reason = strings.TrimSpace(reason); reason != "" {
		body.WriteString(`<p class="reason">`)
		body.WriteString(strict.Sanitize(reason))
		body.WriteString(`</p>`)
	}
	body.WriteString(`<p>The site may block embedding or the fetch relays may be unavailable. Try another address.</p>`)
	body.WriteString(`</div>`)

	return markup.Fragments{
		Head: `<meta charset="utf-8"><title>Page unavailable</title><style>` + placeholderStyle + `</style>`,
		Body: body.String(),
	}
}
