// Package scheduler pairs pending jobs with idle workers.
//
// The Scheduler owns a queue.Queue and a registry.Registry and is the only
// code that mutates either. Each public mutation takes one lock, applies its
// change, then runs a cycle: sweep lapsed workers (requeueing or failing
// their jobs against the retry ceiling) and assign pending jobs in FIFO
// order to the first assignable worker. After every cycle the pairing
// invariant is checked; a violation, like a journal write failure, halts the
// scheduler and is reported through Options.OnFatal.
package scheduler
