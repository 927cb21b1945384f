package registry

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// State is a worker's scheduling state.
type State string

const (
	StateIdle        State = "idle"
	StateBusy        State = "busy"
	StateUnreachable State = "unreachable"
)

var (
	// ErrUnknownWorker is returned for ids that never registered.
	ErrUnknownWorker = errors.New("unknown worker")
	// ErrInvalidWorker is returned when a registration carries no id.
	ErrInvalidWorker = errors.New("invalid worker registration")
)

// Metrics is the host load a worker reports with each heartbeat.
type Metrics struct {
	CPUPercent    float64
	MemoryPercent float64
	LoadAverage   float64
}

// Worker is the master's record of one encode agent.
type Worker struct {
	ID            string
	Name          string
	Address       string
	State         State
	CurrentJob    string
	Draining      bool
	Metrics       Metrics
	RegisteredAt  time.Time
	LastHeartbeat time.Time
}

// Clone returns a copy safe to hand outside the scheduler lock.
func (w *Worker) Clone() *Worker {
	if w == nil {
		return nil
	}
	cp := *w
	return &cp
}

// Lost is a worker whose heartbeats lapsed. JobID is the job it held, or
// empty when it was idle.
type Lost struct {
	WorkerID string
	JobID    string
}

// Registry tracks known workers in registration order. Like queue.Queue it is
// not safe for concurrent use; the scheduler serializes access.
type Registry struct {
	workers map[string]*Worker
	order   []string
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{workers: make(map[string]*Worker)}
}

// Register records a worker or refreshes an existing one. Re-registering keeps
// the current assignment; an unreachable worker comes back idle. created
// reports whether the id was new.
func (r *Registry) Register(id, name, address string, now time.Time) (w *Worker, created bool, err error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, false, errors.WithHint(errors.Wrap(ErrInvalidWorker, "worker id is required"),
			"set worker.id or let the agent generate one")
	}
	worker, ok := r.workers[id]
	if !ok {
		worker = &Worker{ID: id, State: StateIdle, RegisteredAt: now}
		r.workers[id] = worker
		r.order = append(r.order, id)
		created = true
	}
	if name = strings.TrimSpace(name); name != "" {
		worker.Name = name
	}
	worker.Address = strings.TrimSpace(address)
	worker.LastHeartbeat = now
	if worker.State == StateUnreachable && worker.CurrentJob == "" {
		worker.State = StateIdle
	}
	return worker.Clone(), created, nil
}

// Heartbeat refreshes a worker's liveness. A worker that was swept while
// silent is revived as idle; the job it lost stays with whoever has it now.
func (r *Registry) Heartbeat(id string, now time.Time, metrics *Metrics) (*Worker, error) {
	worker, ok := r.workers[id]
	if !ok {
		return nil, unknownWorker(id)
	}
	worker.LastHeartbeat = now
	if metrics != nil {
		worker.Metrics = *metrics
	}
	if worker.State == StateUnreachable && worker.CurrentJob == "" {
		worker.State = StateIdle
	}
	return worker.Clone(), nil
}

// MarkBusy pairs an idle worker with a job.
func (r *Registry) MarkBusy(id, jobID string) error {
	worker, ok := r.workers[id]
	if !ok {
		return unknownWorker(id)
	}
	if worker.State != StateIdle || worker.CurrentJob != "" {
		return errors.AssertionFailedf("worker %s cannot take job %s: state=%s current_job=%q",
			id, jobID, worker.State, worker.CurrentJob)
	}
	worker.State = StateBusy
	worker.CurrentJob = jobID
	return nil
}

// MarkIdle releases a worker's current job. Unreachable workers stay
// unreachable.
func (r *Registry) MarkIdle(id string) error {
	worker, ok := r.workers[id]
	if !ok {
		return unknownWorker(id)
	}
	worker.CurrentJob = ""
	if worker.State == StateBusy {
		worker.State = StateIdle
	}
	return nil
}

// Sweep marks every worker silent for longer than timeout as unreachable and
// returns each one along with the job it held. Running it twice with no new
// lapses is a no-op.
func (r *Registry) Sweep(now time.Time, timeout time.Duration) []Lost {
	var lost []Lost
	for _, id := range r.order {
		worker := r.workers[id]
		if worker.State == StateUnreachable {
			continue
		}
		if now.Sub(worker.LastHeartbeat) <= timeout {
			continue
		}
		worker.State = StateUnreachable
		lost = append(lost, Lost{WorkerID: id, JobID: worker.CurrentJob})
		worker.CurrentJob = ""
	}
	return lost
}

// SetDraining toggles whether the worker may receive new jobs.
func (r *Registry) SetDraining(id string, draining bool) (*Worker, error) {
	worker, ok := r.workers[id]
	if !ok {
		return nil, unknownWorker(id)
	}
	worker.Draining = draining
	return worker.Clone(), nil
}

// Assignable returns idle, non-draining workers in registration order.
func (r *Registry) Assignable() []*Worker {
	var out []*Worker
	for _, id := range r.order {
		worker := r.workers[id]
		if worker.State == StateIdle && !worker.Draining {
			out = append(out, worker.Clone())
		}
	}
	return out
}

// Get returns a copy of one worker.
func (r *Registry) Get(id string) (*Worker, error) {
	worker, ok := r.workers[id]
	if !ok {
		return nil, unknownWorker(id)
	}
	return worker.Clone(), nil
}

// List returns every worker in registration order.
func (r *Registry) List() []*Worker {
	out := make([]*Worker, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.workers[id].Clone())
	}
	return out
}

// Counts tallies workers per state.
func (r *Registry) Counts() map[State]int {
	counts := map[State]int{StateIdle: 0, StateBusy: 0, StateUnreachable: 0}
	for _, worker := range r.workers {
		counts[worker.State]++
	}
	return counts
}

func unknownWorker(id string) error {
	return errors.WithHint(
		errors.Wrapf(ErrUnknownWorker, "worker %q", id),
		"the worker must register before sending heartbeats or reports",
	)
}
