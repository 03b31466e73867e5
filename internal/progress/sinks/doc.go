// Package sinks implements concrete progress consumers: structured logging,
// Prometheus metrics, a Postgres findings mirror, and Pub/Sub notifications.
// Each sink satisfies progress.Sink.
package sinks
