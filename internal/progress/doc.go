// Package progress fans pipeline progress out to monitoring sinks. Runs emit
// events into a non-blocking Hub, which batches them on a background
// goroutine and hands each batch to pluggable sinks such as structured logs
// or Prometheus collectors.
package progress
