package sandbox

import (
	"time"
)

// Config defines per-render execution limits
type Config struct {
	Timeout          time.Duration // budget for each patch script
	MaxCallStackSize int
	Policy           Policy
}

// DiagnosticKind classifies what a render observed
type DiagnosticKind string

const (
	KindScriptError      DiagnosticKind = "script-error"
	KindCapabilityDenied DiagnosticKind = "capability-denied"
	KindConsole          DiagnosticKind = "console"
	KindTimer            DiagnosticKind = "timer"
	KindMessage          DiagnosticKind = "message"
	KindModal            DiagnosticKind = "modal"
	KindTimeout          DiagnosticKind = "timeout"
)

// Diagnostic is one observation made while running a document's patches
type Diagnostic struct {
	Kind    DiagnosticKind `json:"kind"`
	Patch   int            `json:"patch"` // -1 when not tied to a patch
	Level   string         `json:"level,omitempty"`
	Message string         `json:"message"`
	Time    time.Time      `json:"time"`
}

// DOMChange represents a DOM modification made by a patch
type DOMChange struct {
	Type     string `json:"type"` // set_attribute, set_text, append_child, ...
	Target   string `json:"target"`
	Property string `json:"property,omitempty"`
	Value    string `json:"value,omitempty"`
	Patch    int    `json:"patch"`
}

// Observer receives render metrics
type Observer interface {
	ObserveRender(d time.Duration, patches int)
	ObserveDiagnostic(kind string)
}

type nopObserver struct{}

func (nopObserver) ObserveRender(time.Duration, int) {}
func (nopObserver) ObserveDiagnostic(string)          {}

// DefaultConfig returns the default limits
func DefaultConfig() Config {
	return Config{
		Timeout:          2 * time.Second,
		MaxCallStackSize: 1024,
	}
}
