/*
Package fetch acquires a target page's raw markup through an ordered list of
providers with automatic failover.

# Providers

  - json: a relay answering {"contents": "<html>..."} (allorigins style)
  - raw: a relay passing the origin body through (corsproxy style)
  - direct: the origin itself

Providers are declared as Specs (built-in defaults, or a YAML/TOML file) and
built into Provider values sharing one HTTP client. Every provider sits behind
its own circuit breaker.

# Failover

Sequential (default): provider[0] first; any failure (transport error,
non-2xx, empty or non-textual body, open breaker) is logged and the next
provider is tried. Race: all providers at once, first success wins, the rest
are cancelled.

When every provider fails, Fetch returns a *FetchError listing each Attempt.
errors.Is(err, ErrAllProvidersFailed) always holds, and the last cause is
classified as ErrNetwork or ErrEmptyContent.

A successful HTMLResult does not say which provider produced it; that is only
logged and reported to the Observer.
*/
package fetch
