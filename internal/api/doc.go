// Package api hosts the optional operator HTTP listener that runs beside a
// crawl session. Notable routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status and /v1/status/domains for session progress.
package api
