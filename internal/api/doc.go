// Package api hosts the optional status server that runs beside a crawl.
// Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/run for the live run summary.
//   - GET /v1/run/findings for the findings recorded so far.
package api
