// Package api hosts the status HTTP server and its middleware. Routes:
//   - GET / and /status for harvesting counters, cursor depth and pool state.
//   - GET /health, /healthz and /readyz for probes.
//   - GET /cycles for the most recent cycle reports.
//   - GET /metrics for Prometheus scraping.
package api
