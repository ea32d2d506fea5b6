package sandbox

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Capability is one permission the render boundary may extend to a document.
type Capability string

const (
	// Scripts lets injected patches run.
	Scripts Capability = "scripts"
	// SameOrigin keeps the target's origin instead of an opaque one.
	SameOrigin Capability = "same-origin"
	// Forms allows form submission.
	Forms Capability = "forms"
	// Modals allows alert, confirm and prompt.
	Modals Capability = "modals"
	// Popups allows window.open. Popups never escape the sandbox.
	Popups Capability = "popups"
	// TopNavigation would let the document navigate the host. It is never
	// granted.
	TopNavigation Capability = "top-navigation"
)

// order fixes the token order of rendered attributes and headers.
var order = []Capability{Scripts, SameOrigin, Forms, Modals, Popups, TopNavigation}

var (
	// ErrForbiddenCapability is returned for a grant that includes TopNavigation.
	ErrForbiddenCapability = errors.New("capability can never be granted")
	// ErrUnknownCapability is returned when a capability name is not recognised.
	ErrUnknownCapability = errors.New("unknown capability")
)

// Grant is an immutable set of capabilities.
type Grant uint8

func bit(c Capability) Grant {
	for i, o := range order {
		if o == c {
			return 1 << i
		}
	}
	return 0
}

// DefaultGrant allows scripts and nothing else.
func DefaultGrant() Grant {
	return bit(Scripts)
}

// NewGrant builds a grant from capability names.
func NewGrant(caps ...Capability) (Grant, error) {
	var g Grant
	for _, c := range caps {
		b := bit(c)
		if b == 0 {
			return 0, fmt.Errorf("%w: %q", ErrUnknownCapability, c)
		}
		g |= b
	}
	return g, g.Validate()
}

// Has reports whether c is granted.
func (g Grant) Has(c Capability) bool {
	b := bit(c)
	return b != 0 && g&b != 0
}

// With returns g plus caps.
func (g Grant) With(caps ...Capability) Grant {
	for _, c := range caps {
		g |= bit(c)
	}
	return g
}

// Capabilities lists the granted capabilities in canonical order.
func (g Grant) Capabilities() []Capability {
	out := make([]Capability, 0, len(order))
	for _, c := range order {
		if g.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// Validate rejects grants that let a document leave its boundary.
func (g Grant) Validate() error {
	if g.Has(TopNavigation) {
		return fmt.Errorf("%w: %s", ErrForbiddenCapability, TopNavigation)
	}
	return nil
}

func (g Grant) tokens() []string {
	caps := g.Capabilities()
	tokens := make([]string, len(caps))
	for i, c := range caps {
		tokens[i] = "allow-" + string(c)
	}
	return tokens
}

// IframeAttr renders the value of an iframe sandbox attribute. Popups never
// escape the sandbox because allow-popups-to-escape-sandbox is not emitted.
func (g Grant) IframeAttr() string {
	return strings.Join(g.tokens(), " ")
}

// CSPHeader renders a Content-Security-Policy sandbox directive.
func (g Grant) CSPHeader() string {
	if t := g.tokens(); len(t) > 0 {
		return "sandbox " + strings.Join(t, " ")
	}
	return "sandbox"
}

// Headers returns the response headers a frame serving this grant must carry.
func (g Grant) Headers() map[string]string {
	return map[string]string{
		"Content-Security-Policy": g.CSPHeader(),
		"Referrer-Policy":         "no-referrer",
		"X-Content-Type-Options":  "nosniff",
	}
}

func (g Grant) String() string {
	return g.IframeAttr()
}

// Policy decides the grant for a target page.
type Policy struct {
	// SameOriginHosts are glob patterns of hosts trusted with same-origin.
	SameOriginHosts []string
	AllowForms      bool
	AllowModals     bool
}

// Validate checks every host pattern.
func (p Policy) Validate() error {
	for _, pattern := range p.SameOriginHosts {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid same-origin host pattern %q", pattern)
		}
	}
	return nil
}

// GrantFor returns the grant for targetURL. Same-origin is withheld unless
// the host matches an allowlisted pattern.
func (p Policy) GrantFor(targetURL string) Grant {
	g := DefaultGrant()
	if p.AllowForms {
		g = g.With(Forms)
	}
	if p.AllowModals {
		g = g.With(Modals)
	}
	if MatchHost(p.SameOriginHosts, hostOf(targetURL)) {
		g = g.With(SameOrigin)
	}
	return g
}

// MatchHost reports whether host matches any of the glob patterns.
func MatchHost(patterns []string, host string) bool {
	host = strings.ToLower(host)
	if host == "" {
		return false
	}
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(strings.ToLower(pattern), host); err == nil && ok {
			return true
		}
	}
	return false
}

func hostOf(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
