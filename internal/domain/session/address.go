package session

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/GriffinCanCode/webmodder/internal/providers/browser/sandbox"
)

var (
	ErrEmptyAddress   = errors.New("address is empty")
	ErrInvalidAddress = errors.New("address is not a valid http(s) URL")
	ErrBlockedHost    = errors.New("host is blocked")
	ErrNoPage         = errors.New("no page is loaded")

	// ErrStalePage means the page a change was made for has been replaced by
	// a later navigation.
	ErrStalePage = errors.New("page was replaced by a newer navigation")
)

// NormalizeAddress turns free-text navigation input into an absolute URL.
// Input without a scheme is treated as https.
func NormalizeAddress(input string, blocked []string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", ErrEmptyAddress
	}

	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
	case strings.Contains(s, "://"):
		return "", fmt.Errorf("%w: unsupported scheme in %q", ErrInvalidAddress, s)
	default:
		s = "https://" + strings.TrimPrefix(s, "//")
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if u.Hostname() == "" || strings.ContainsAny(u.Hostname(), " \t") {
		return "", fmt.Errorf("%w: %q has no host", ErrInvalidAddress, s)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if sandbox.MatchHost(blocked, u.Hostname()) {
		return "", fmt.Errorf("%w: %s", ErrBlockedHost, u.Hostname())
	}
	return u.String(), nil
}
