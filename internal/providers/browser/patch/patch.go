// Package patch accumulates the style and script modifications applied to the
// page currently shown in a preview session.
package patch

import (
	"strings"
	"sync"
)

// Set is a snapshot of accumulated patches.
type Set struct {
	CSS     string
	JS      string
	Scripts []string // individual JS patches, in application order
}

// Empty reports whether no patch has been applied.
func (s Set) Empty() bool {
	return s.CSS == "" && len(s.Scripts) == 0
}

// Accumulator holds the patches for one page. Appends are concatenations in
// arrival order; nothing is deduplicated or reordered.
type Accumulator struct {
	mu      sync.RWMutex
	css     []string
	scripts []string
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Reset discards every patch.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.css = nil
	a.scripts = nil
}

// AppendCSS adds a stylesheet patch. Blank text is ignored.
func (a *Accumulator) AppendCSS(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.css = append(a.css, text)
	return true
}

// AppendJS adds a script patch. Blank text is ignored.
func (a *Accumulator) AppendJS(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scripts = append(a.scripts, text)
	return true
}

// Current returns a consistent snapshot.
func (a *Accumulator) Current() Set {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Set{
		CSS:     strings.Join(a.css, "\n"),
		JS:      strings.Join(a.scripts, "\n"),
		Scripts: append([]string(nil), a.scripts...),
	}
}

// Len returns the number of CSS and JS patches held.
func (a *Accumulator) Len() (css, js int) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.css), len(a.scripts)
}
