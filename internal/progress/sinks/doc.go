// Package sinks implements concrete request event consumers: Prometheus
// collectors, structured logging and an in-memory ring of recent requests.
// Each sink satisfies the progress.Sink interface.
package sinks
