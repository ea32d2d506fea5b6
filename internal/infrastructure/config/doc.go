// Package config provides 12-factor configuration for the preview service.
//
// Configuration is loaded from environment variables with defaults.
// CLI flags in cmd/server override the server address and log mode.
//
// Configuration Sections:
//   - Server: HTTP listen address
//   - Logging: log level and output format
//   - RateLimit: per-IP API rate limiting
//   - Fetch: provider timeouts, retries, failover strategy, providers file
//   - Sandbox: script timeout and the same-origin host allowlist
//   - Navigation: hosts that may never be previewed
//   - Generator: code-generation service credentials
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("listening on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//
// Environment Variables:
//   - PORT, HOST, LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//   - FETCH_TIMEOUT, FETCH_RETRIES, FETCH_STRATEGY, FETCH_PROVIDERS_FILE, FETCH_RATE_LIMIT
//   - SANDBOX_SCRIPT_TIMEOUT, SANDBOX_SAME_ORIGIN_HOSTS, SANDBOX_ALLOW_FORMS, SANDBOX_ALLOW_MODALS
//   - NAV_BLOCKED_HOSTS
//   - GEMINI_API_KEY, GEMINI_MODEL, GEMINI_TIMEOUT
package config
