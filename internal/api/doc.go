// Package api hosts the admin HTTP server for operators. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/commands, /v1/pool, /v1/requests and /v1/lookups for
//     inspecting subscribers, the worker pool and recent traffic.
package api
