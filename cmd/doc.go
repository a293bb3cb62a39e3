// Package cmd defines the thumbnailer CLI.
//
// Architecture overview:
//   - serve: internal/api exposes POST /thumbnail. Requests are validated, the bearer token is resolved to a user,
//     the caller is rate limited, and project ownership is checked before any browser starts.
//   - Capture pipeline: internal/orchestrator takes the optional per-project lock, opens a scratch workspace, renders
//     the page in a fresh headless Chrome, scales the screenshot to the configured thumbnail size, and upserts it at
//     {collection}/{projectID}.jpg in the configured object store (memory/local/GCS). The workspace is removed and the
//     lock released on every exit path.
//   - Write-back & fanout: the API stores the public URL on the project row (Postgres or memory) and publishes a
//     thumbnail.captured event to Pub/Sub when a topic is configured.
//   - capture: runs one capture from the shell, optionally persisting the URL.
//   - reconcile: deletes stored thumbnails that no project references (failed write-backs, deleted projects).
//   - token: mints an HS256 bearer token for local testing.
//
// Operational notes:
//   - Concurrency: browser processes are bounded by render.max_parallel; each capture owns its browser and workspace.
//     Concurrent captures of one project are last-writer-wins unless lock.backend is redis or file.
//   - Observability: zap logs carry capture IDs, project IDs and stages; Prometheus metrics are served on /metrics.
//   - Cloud Run: the HTTP server listens on PORT when set and drains in-flight requests on SIGTERM.
//
// Quick checklist:
//   - Configure env vars: THUMBNAILER_AUTH_JWT_SECRET (or auth.mode=userinfo), THUMBNAILER_STORAGE_BACKEND and
//     bucket/base dir, THUMBNAILER_DB_BACKEND=postgres with THUMBNAILER_DB_DSN, optional pubsub and lock settings.
//   - Run locally: thumbnailer serve --config config.yaml (or rely solely on env overrides).
package cmd
