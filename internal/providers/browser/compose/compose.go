// Package compose assembles a renderable document from page fragments and the
// active patch set.
//
// Output layout:
//
//	<!DOCTYPE html>
//	<html><head>
//	  {head fragment}
//	  <style data-preview-patch>{css}</style>
//	</head><body>
//	  {body fragment}
//	  <script data-preview-patch="0">try{...}catch(e){...}</script>
//	  <script data-preview-patch="1">try{...}catch(e){...}</script>
//	</body></html>
//
// Each script patch lives in its own element so that a syntax error in one
// patch leaves the others running, and each body is wrapped in a guard that
// reports runtime failures instead of propagating them.
package compose

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/GriffinCanCode/webmodder/internal/providers/browser/markup"
	"github.com/GriffinCanCode/webmodder/internal/providers/browser/patch"
)

const (
	// PatchAttr marks elements injected by the composer.
	PatchAttr = "data-preview-patch"
	// ScriptErrorType is the postMessage type sent when a patch throws.
	ScriptErrorType = "preview:script-error"
)

var (
	styleClose  = regexp.MustCompile(`(?i)</(style)`)
	scriptClose = regexp.MustCompile(`(?i)</(script)`)
)

// Document is a composed page and the guarded patch scripts it embeds, in
// order. Scripts is the only code a renderer may execute: script elements in
// the page fragments never appear in it.
type Document struct {
	HTML    string
	Scripts []string
}

// Build renders the document for frag with set applied. The result depends
// only on its inputs.
func Build(frag markup.Fragments, set patch.Set) Document {
	var b strings.Builder
	b.Grow(len(frag.Head) + len(frag.Body) + len(set.CSS) + len(set.JS) + 512)

	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	b.WriteString(frag.Head)
	b.WriteString("\n<style ")
	b.WriteString(PatchAttr)
	b.WriteString(">\n")
	b.WriteString(EscapeStyle(set.CSS))
	b.WriteString("\n</style>\n</head>\n<body>\n")
	b.WriteString(frag.Body)
	b.WriteString("\n")

	scripts := make([]string, 0, len(set.Scripts))
	for i, js := range set.Scripts {
		guarded := GuardScript(i, js)
		scripts = append(scripts, guarded)
		b.WriteString("<script ")
		b.WriteString(PatchAttr)
		b.WriteString(`="`)
		b.WriteString(strconv.Itoa(i))
		b.WriteString("\">\n")
		b.WriteString(guarded)
		b.WriteString("</script>\n")
	}
	b.WriteString("</body>\n</html>\n")
	return Document{HTML: b.String(), Scripts: scripts}
}

// Compose is Build without the script list.
func Compose(frag markup.Fragments, set patch.Set) string {
	return Build(frag, set).HTML
}

// ComposeText is the single-script form: css and js are each injected as one
// patch.
func ComposeText(head, body, css, js string) string {
	set := patch.Set{CSS: css, JS: js}
	if strings.TrimSpace(js) != "" {
		set.Scripts = []string{js}
	}
	return Compose(markup.Fragments{Head: head, Body: body}, set)
}

// GuardScript wraps patch index's js so a runtime failure is reported on the
// diagnostic channels instead of propagating.
func GuardScript(index int, js string) string {
	n := strconv.Itoa(index)
	var b strings.Builder
	b.WriteString("try {\n")
	b.WriteString(EscapeScript(js))
	b.WriteString("\n} catch (e) {\n")
	b.WriteString(`  try { console.error("Injected Script Error:", e); } catch (_) {}`)
	b.WriteString("\n  try { parent.postMessage({type: \"")
	b.WriteString(ScriptErrorType)
	b.WriteString(`", patch: `)
	b.WriteString(n)
	b.WriteString(`, message: String(e)}, "*"); } catch (_) {}`)
	b.WriteString("\n}\n")
	return b.String()
}

// EscapeStyle keeps css from closing its style element.
func EscapeStyle(css string) string {
	return styleClose.ReplaceAllString(css, `<\/$1`)
}

// EscapeScript keeps js from closing its script element.
func EscapeScript(js string) string {
	return scriptClose.ReplaceAllString(js, `<\/$1`)
}
