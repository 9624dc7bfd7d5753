// Package api hosts the HTTP server, middleware, and REST handlers for the
// review pipeline. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/discover, /v1/process, /v1/summarize, /v1/score,
//     /v1/video/render and /v1/distribute to run a stage on demand.
//   - POST /v1/videos/{id}/approve|reject for human review.
//   - GET /v1/products, /v1/videos and /v1/stats for the dashboard.
//
// Every /v1 response is wrapped as {"success":true,"data":...} or
// {"success":false,"error":"..."}.
package api
