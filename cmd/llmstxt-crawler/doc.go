// Package main runs the llms.txt crawler service.
//
// Architecture overview:
//   - HTTP API: internal/api.Server accepts crawl submissions, reports job status and results, and triggers recrawl
//     sweeps on demand. Requests are validated into crawler.JobParameters and persisted before being enqueued.
//   - Dispatcher & queue: jobs flow through the in-memory queue (or a Redis list when queue.backend=redis) to a fixed
//     pool of workers sized by crawler.workers. The recrawl sweeper runs alongside the workers when enabled.
//   - Crawl pipeline: each job runs the orchestrator, which seeds a frontier from the site's sitemap, fetches pages
//     with the Colly fetcher, and escalates thin or failed pages to a remote headless browser when escalation is
//     configured. A shared token bucket caps headless calls across all crawls.
//   - Publishing: extracted pages are rendered to llms.txt, hashed, written to the blob store (memory/local/GCS), and
//     announced on Pub/Sub when a topic is configured. Sites with a recrawl interval are registered in Postgres (or
//     in memory) for the sweeper.
//   - Plumbing: Viper populates config from env (LLMSTXT_ prefix) and files; zap provides structured logging;
//     Prometheus metrics are exported on /metrics.
//
// Quick checklist:
//   - Configure env vars: PORT or LLMSTXT_SERVER_PORT, LLMSTXT_DB_DSN for persistence, LLMSTXT_STORAGE_BACKEND and
//     bucket or directory, LLMSTXT_ESCALATION_* for headless rendering, LLMSTXT_PUBSUB_* for notifications.
//   - Run locally: go run ./cmd/llmstxt-crawler -config config.yaml (or rely solely on env overrides).
//   - The process drains in-flight jobs on SIGTERM within server.shutdown_timeout_seconds.
package main
