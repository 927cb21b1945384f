// Package registry is the master's record of encode workers: identity,
// liveness, and the one job each may hold.
//
// Workers enter on Register (idempotent), stay alive through Heartbeat, and
// move between idle and busy only through MarkBusy and MarkIdle, which the
// scheduler calls inside its assignment and completion steps. Sweep is the
// sole loss detector: a worker silent past the timeout becomes unreachable and
// is reported to the scheduler as Lost, together with any job it held.
package registry
