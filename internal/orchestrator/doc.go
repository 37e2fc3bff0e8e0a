// Package orchestrator drives remote crawl, embed and index runs for callers.
//
// An Orchestrator owns the connection table, the in-flight run registry and
// the client identity for one process. Concurrent requests for the same
// target share a single run; every caller receives the run's progress events
// from the point it joined and the same final outcome.
package orchestrator
