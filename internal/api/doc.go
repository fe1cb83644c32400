// Package api hosts the operator HTTP endpoints of a long-running harvester process.
// Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the stage and reports of the current pipeline run.
package api
