// Package progress carries crawl lifecycle events from the engine to sinks.
// A Hub accepts events without blocking the crawl, batches them on a
// background goroutine, and hands each batch to every registered Sink (logs,
// Prometheus, Postgres, Pub/Sub).
package progress
