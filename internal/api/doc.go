// Package api hosts the status server that runs alongside a crawl. Routes:
//   - GET /healthz and /readyz for liveness and storage readiness.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/crawl for the live session counters and frontier sizes.
//   - GET /v1/stats, /v1/pages/top and /v1/pages/search for the stored corpus.
package api
