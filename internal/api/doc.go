// Package api hosts the local status server that runs alongside the client.
// Notable routes:
//   - GET /healthz / readyz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs and /v1/client for inspecting in-flight runs.
//   - POST /v1/runs/close to abandon every run.
package api
