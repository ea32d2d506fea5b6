/*
Package browser groups the live preview pipeline.

A navigation flows through its subpackages in order:

	fetch    acquire page markup through failover-capable CORS relays
	markup   split the markup and inject a <base> tag for relative URLs
	patch    accumulate style and script patches for the current page
	compose  build one self-contained document from fragments and patches
	sandbox  render the document under a capability grant

A modification round appends to the patch accumulator and recomposes
without fetching again.
*/
package browser
