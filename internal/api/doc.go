// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - /v1/targets for target and extraction rule management, manual runs,
//     rate-limit usage, daily metrics and the log journal.
//   - /v1/jobs for job inspection and cancellation.
//   - /v1/records for record post-processing transitions.
//   - POST /v1/cleanup to apply the retention policy on demand.
package api
