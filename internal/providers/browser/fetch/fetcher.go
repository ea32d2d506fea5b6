package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/GriffinCanCode/webmodder/internal/infrastructure/resilience"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Strategy selects how providers are tried.
type Strategy string

const (
	// Sequential tries providers one at a time in priority order.
	Sequential Strategy = "sequential"
	// Race starts every provider at once and keeps the first success.
	Race Strategy = "race"
)

// HTMLResult is a successful fetch. It deliberately does not say which
// provider produced it.
type HTMLResult struct {
	URL   string
	Title string
	HTML  string
}

// Observer receives per-attempt outcomes (metrics).
type Observer interface {
	ObserveFetchAttempt(provider, outcome string, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveFetchAttempt(string, string, time.Duration) {}

type guarded struct {
	Provider
	breaker *resilience.Breaker
}

// Fetcher obtains raw markup through an ordered provider list with failover.
type Fetcher struct {
	providers []guarded
	strategy  Strategy
	logger    *zap.Logger
	observer  Observer
	inflight  singleflight.Group
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithStrategy sets the failover strategy.
func WithStrategy(s Strategy) Option {
	return func(f *Fetcher) { f.strategy = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// WithObserver sets the attempt observer.
func WithObserver(o Observer) Option {
	return func(f *Fetcher) { f.observer = o }
}

// New creates a Fetcher. Each provider gets its own circuit breaker.
func New(providers []Provider, opts ...Option) (*Fetcher, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}

	f := &Fetcher{
		strategy: Sequential,
		logger:   zap.NewNop(),
		observer: nopObserver{},
	}
	for _, o := range opts {
		o(f)
	}

	for _, p := range providers {
		name := p.Name()
		f.providers = append(f.providers, guarded{
			Provider: p,
			breaker: resilience.New(name, resilience.Settings{
				Timeout: 30 * time.Second,
				ReadyToTrip: func(c resilience.Counts) bool {
					return c.ConsecutiveFailures >= 5
				},
				OnStateChange: func(name string, from, to resilience.State) {
					f.logger.Warn("fetch provider breaker changed state",
						zap.String("provider", name),
						zap.Stringer("from", from),
						zap.Stringer("to", to))
				},
			}),
		})
	}
	return f, nil
}

// Providers returns provider names in priority order.
func (f *Fetcher) Providers() []string {
	names := make([]string, len(f.providers))
	for i, p := range f.providers {
		names[i] = p.Name()
	}
	return names
}

// Fetch obtains the raw HTML for target. Concurrent calls for the same target
// share one in-flight request; nothing is cached once it completes.
func (f *Fetcher) Fetch(ctx context.Context, target string) (*HTMLResult, error) {
	if err := ValidateTarget(target); err != nil {
		return nil, err
	}

	ch := f.inflight.DoChan(target, func() (interface{}, error) {
		return f.fetch(ctx, target)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			// The shared call belonged to a caller that was cancelled; ours is still live.
			if res.Shared && isCancellation(res.Err) && ctx.Err() == nil {
				return f.fetch(ctx, target)
			}
			return nil, res.Err
		}
		return res.Val.(*HTMLResult), nil
	}
}

func (f *Fetcher) fetch(ctx context.Context, target string) (*HTMLResult, error) {
	var (
		html     string
		attempts []Attempt
	)
	if f.strategy == Race && len(f.providers) > 1 {
		html, attempts = f.race(ctx, target)
	} else {
		html, attempts = f.sequential(ctx, target)
	}

	if html == "" {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, &FetchError{Target: target, Attempts: attempts}
	}

	return &HTMLResult{
		URL:   target,
		Title: Title(html, target),
		HTML:  html,
	}, nil
}

func (f *Fetcher) sequential(ctx context.Context, target string) (string, []Attempt) {
	attempts := make([]Attempt, 0, len(f.providers))
	for _, p := range f.providers {
		if ctx.Err() != nil {
			break
		}
		html, attempt := f.attempt(ctx, p, target)
		attempts = append(attempts, attempt)
		if attempt.Err == nil {
			return html, attempts
		}
	}
	return "", attempts
}

func (f *Fetcher) race(ctx context.Context, target string) (string, []Attempt) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		index   int
		html    string
		attempt Attempt
	}
	results := make(chan outcome, len(f.providers))
	for i, p := range f.providers {
		go func(i int, p guarded) {
			html, attempt := f.attempt(ctx, p, target)
			results <- outcome{index: i, html: html, attempt: attempt}
		}(i, p)
	}

	attempts := make([]Attempt, len(f.providers))
	for range f.providers {
		res := <-results
		attempts[res.index] = res.attempt
		if res.attempt.Err == nil {
			// Losers observe the cancellation; the buffered channel lets them exit.
			cancel()
			return res.html, compact(attempts)
		}
	}
	return "", attempts
}

func (f *Fetcher) attempt(ctx context.Context, p guarded, target string) (string, Attempt) {
	start := time.Now()
	html, err := resilience.Call(p.breaker, func() (string, error) {
		return p.Fetch(ctx, target)
	})
	if err == nil && strings.TrimSpace(html) == "" {
		err = fmt.Errorf("%w: provider returned blank markup", ErrEmptyContent)
	}
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	attempt := Attempt{Provider: p.Name(), Err: err, Duration: time.Since(start)}
	f.observer.ObserveFetchAttempt(attempt.Provider, attempt.Outcome(), attempt.Duration)

	if err != nil {
		if !isCancellation(err) {
			f.logger.Warn("fetch provider failed, falling through",
				zap.String("provider", p.Name()),
				zap.String("target", target),
				zap.Duration("duration", attempt.Duration),
				zap.Error(err))
		}
		return "", attempt
	}

	f.logger.Debug("fetch provider succeeded",
		zap.String("provider", p.Name()),
		zap.String("target", target),
		zap.Int("bytes", len(html)),
		zap.Duration("duration", attempt.Duration))
	return html, attempt
}

func compact(attempts []Attempt) []Attempt {
	out := attempts[:0]
	for _, a := range attempts {
		if a.Provider != "" {
			out = append(out, a)
		}
	}
	return out
}

// ValidateTarget checks that target is an absolute http(s) URL with a host.
func ValidateTarget(target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}
	return nil
}
