// Package client is the outbound HTTP client used by the fetch providers.
//
// Built on go-resty/resty over the pooled transport from
// hashicorp/go-retryablehttp:
//   - retries on transport errors, 429 and 5xx (never on cancellation)
//   - optional per-client rate limit (golang.org/x/time/rate)
//   - response size cap
//   - context-based cancellation, so a superseded navigation stops its fetch
//
// Example Usage:
//
//	c := client.New(client.DefaultOptions())
//	resp, err := c.Get(ctx, "https://example.org")
//	if err == nil && resp.OK() {
//		fmt.Println(len(resp.Body))
//	}
package client
