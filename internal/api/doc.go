// Package api hosts the HTTP server, middleware, and REST handlers for the
// crawler service. Notable routes:
//   - POST /v1/crawls submits a crawl job; GET /v1/crawls/{job_id} reports its
//     status and progress log; GET /v1/crawls/{job_id}/result returns pages
//     and the rendered llms.txt.
//   - POST /v1/recrawl runs one recrawl sweep over due sites.
//   - GET /healthz and /readyz for Kubernetes health checks.
//   - GET /metrics for Prometheus scraping.
package api
