// Package worker implements the encode agent that runs on each worker host.
//
// An Agent registers with the master, heartbeats on its own goroutine, and
// polls for assignments at a rate-limited cadence. Each assignment is handed
// to an encoder.Encoder; sampled progress is forwarded to the master and the
// outcome is reported exactly once. The agent never retries a job locally:
// requeueing is the master's decision.
package worker
