package modgen

import (
	"fmt"
	"strings"
)

const generatorInstruction = `You are an expert senior frontend engineer and browser extension developer.
Your goal is to help users modify web pages by generating Chrome Extensions (Manifest V3), UserScripts (Tampermonkey) or Stylus CSS.

When a user provides a screenshot or HTML source, analyze it to understand the DOM structure, classes and IDs.
Then generate the code needed to achieve the requested modification.

OUTPUT FORMAT:
Return a JSON object:
{
  "explanation": "A brief explanation of how the code works.",
  "files": [
    { "name": "filename.ext", "language": "javascript|json|css", "content": "..." }
  ]
}

RULES:
1. For Chrome Extensions, always include manifest.json (V3) and the content scripts and styles it references.
2. For UserScripts, include the metadata block (// ==UserScript== ...).
3. Make selector specificity high enough to override the page's own styles.
4. If an image is attached, infer likely structure from it, but prefer robust selectors (attribute selectors, structural pseudo-classes) when exact IDs are unknown.
5. Scripts run once, after the page body. Do not rely on timers or network access.
6. Code must be production-ready, safe and clean.`

const inspectorInstruction = `You are an expert senior frontend engineer performing a technical analysis of a web page.
Explain the page's structure, layout technique, frameworks in use, notable selectors and accessibility concerns.
Answer the user's question about the page precisely.

OUTPUT FORMAT:
Return a JSON object:
{
  "explanation": "The analysis, in markdown.",
  "files": [
    { "name": "notes.md", "language": "markdown", "content": "..." }
  ]
}

Only include files when a snippet genuinely helps, for example a CSS selector list. Never include manifest files.`

// maxPageSource bounds the page markup included in a prompt.
const maxPageSource = 60_000

func systemInstruction(mode Mode) string {
	if mode == ModeInspector {
		return inspectorInstruction
	}
	return generatorInstruction
}

func buildPrompt(req Request) string {
	var b strings.Builder

	text := strings.TrimSpace(req.Text)
	if text == "" {
		text = "Analyze this image."
	}
	fmt.Fprintf(&b, "User Request: %s\n", text)
	if req.Mode == ModeInspector {
		b.WriteString("Task: technical analysis\n")
	} else {
		fmt.Fprintf(&b, "Target Output Type: %s\n", req.Kind)
	}

	if len(req.Image) > 0 {
		b.WriteString("\nA screenshot of the webpage is attached. Use it to identify elements, colors and layout structure to target.\n")
	}

	if src := strings.TrimSpace(req.PageSource); src != "" {
		truncated := false
		if len(src) > maxPageSource {
			src = src[:maxPageSource]
			truncated = true
		}
		b.WriteString("\nCurrent page HTML")
		if truncated {
			b.WriteString(" (truncated)")
		}
		b.WriteString(":\n```html\n")
		b.WriteString(src)
		b.WriteString("\n```\n")
	}
	return b.String()
}
