// Package api hosts the HTTP server, middleware, and handlers for the thumbnail service.
// Notable routes:
//   - POST /thumbnail captures a page for a project the caller owns and writes the
//     resulting URL back onto the project.
//   - GET /healthz and /readyz for Kubernetes liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /files/* serves thumbnails when the local storage backend is active.
package api
