/*
Package resilience provides the circuit breaker placed in front of each fetch
provider.

A provider that keeps failing (relay down, rate limited, blocked) is skipped
immediately while its breaker is open, so a navigation falls through to the
next provider without paying the full timeout again.

	breaker := resilience.New("allorigins", resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})

	html, err := resilience.Call(breaker, func() (string, error) {
		return provider.Fetch(ctx, target)
	})

States:

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                       [failure]
	                                           v
	                                         Open

Cancelled requests (for example the losers of a raced fetch) are not counted
as failures.
*/
package resilience
