// Package logging assembles structured slog loggers and formatting helpers used
// by the master, the worker agent, and the CLI.
//
// It owns the console and JSON handlers, centralizes level and output plumbing,
// and defines the standard field keys (component, job_id, worker_id,
// event_type) so every process emits records with the same shape. The console
// handler lifts job and worker identifiers into a bracketed subject. The
// package also provides a no-op logger for tests and wiring code that cannot
// fail.
package logging
