// Package pipeline defines the progress event protocol spoken by the remote
// RAG pipeline, the per-run result mapping, and the error taxonomy shared by
// the connection manager and the orchestrator.
package pipeline
