// Package master runs the coordinating ffarm process.
//
// A Master holds the flock on the state directory, replays the job journal
// into a scheduler.Scheduler, serves the HTTP API, drives the periodic sweep,
// and optionally watches a hot folder for new media. Run wraps the lifecycle
// with signal handling, the PID file, and logger construction for the CLI.
//
// Handlers stay thin: they decode requests, call the scheduler, and map
// errors to wire codes through api.NewErrorResponse.
package master
