// Package queue holds the master's job records and the FIFO backlog of
// pending work.
//
// Queue is the in-memory source of truth: Submit validates and appends,
// NextPending peeks at the oldest pending job, Assign/Mark/Requeue drive the
// lifecycle (pending, assigned, running, succeeded, failed), and List/Get/Stats
// answer visibility queries. Jobs are never deleted; a failed job can be
// resubmitted as a new job linked through RetryOf.
//
// Store is the optional SQLite journal. The scheduler writes each mutated job
// through it and replays it with Queue.Restore at startup. Schema changes bump
// schemaVersion in store.go; an older journal must be moved aside.
//
// Queue is not safe for concurrent use. The scheduler owns it and serializes
// every call.
package queue
