/*
Package monitoring provides Prometheus metrics for the preview service.

# Overview

Metrics live on a private registry created by NewMetrics. The collector
implements the observer hooks of the fetch, sandbox and session packages so
it can be passed to each of them directly.

# Metrics

  - HTTP requests by route template, latency and response size
  - fetch attempts by provider and outcome
  - navigations by outcome, stale responses, patches applied, live sessions
  - renders, patch script time and sandbox diagnostics by kind
  - code generation requests
  - WebSocket connections and messages

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	fetcher, _ := fetch.New(providers, fetch.WithObserver(metrics))
	renderer := sandbox.NewRenderer(cfg, sandbox.WithObserver(metrics))
*/
package monitoring
