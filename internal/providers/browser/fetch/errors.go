package fetch

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNetwork marks a transport failure or non-success status from a provider.
	ErrNetwork = errors.New("network failure")
	// ErrEmptyContent marks a successful response with no usable body.
	ErrEmptyContent = errors.New("empty content")
	// ErrAllProvidersFailed is returned once every provider has been tried.
	ErrAllProvidersFailed = errors.New("all fetch providers failed")
	// ErrInvalidTarget rejects URLs that are not absolute http(s).
	ErrInvalidTarget = errors.New("target must be an absolute http(s) URL")
	// ErrNoProviders is returned by New when the provider list is empty.
	ErrNoProviders = errors.New("no fetch providers configured")
)

// Attempt records one provider's outcome during a fetch.
type Attempt struct {
	Provider string
	Err      error // nil on success
	Duration time.Duration
}

// Outcome returns "success", "network", "empty" or "cancelled".
func (a Attempt) Outcome() string {
	switch {
	case a.Err == nil:
		return "success"
	case errors.Is(a.Err, ErrEmptyContent):
		return "empty"
	case isCancellation(a.Err):
		return "cancelled"
	default:
		return "network"
	}
}

// FetchError is the typed failure returned when no provider produced markup.
type FetchError struct {
	Target   string
	Attempts []Attempt
}

// Last returns the last non-cancelled provider error.
func (e *FetchError) Last() error {
	for i := len(e.Attempts) - 1; i >= 0; i-- {
		if err := e.Attempts[i].Err; err != nil && !isCancellation(err) {
			return err
		}
	}
	if n := len(e.Attempts); n > 0 {
		return e.Attempts[n-1].Err
	}
	return nil
}

// Reason is the diagnostic message shown to the user.
func (e *FetchError) Reason() string {
	if last := e.Last(); last != nil {
		return last.Error()
	}
	return ErrAllProvidersFailed.Error()
}

func (e *FetchError) Error() string {
	names := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		names = append(names, a.Provider)
	}
	return fmt.Sprintf("%s for %s (tried %s): %s",
		ErrAllProvidersFailed, e.Target, strings.Join(names, ", "), e.Reason())
}

// Unwrap exposes both the exhaustion sentinel and the last cause.
func (e *FetchError) Unwrap() []error {
	if last := e.Last(); last != nil {
		return []error{ErrAllProvidersFailed, last}
	}
	return []error{ErrAllProvidersFailed}
}
