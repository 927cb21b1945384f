// Package api defines the master's HTTP wire format and the client that
// workers and the CLI use to speak it.
//
// DTOs use snake_case JSON tags. Internal enums (queue.Status,
// registry.State) travel as lowercase strings and timestamps as RFC3339 with
// milliseconds.
//
// Failures are returned as ErrorResponse bodies whose code names the
// sentinel that caused them (Classify). Client decodes them back into *Error,
// which unwraps to the same sentinel, so a worker can test
// errors.Is(err, registry.ErrUnknownWorker) against a remote master exactly as
// it would against a local scheduler.
package api
