package scheduler

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"ffarm/internal/logging"
	"ffarm/internal/queue"
	"ffarm/internal/registry"
)

const (
	// DefaultRetryCeiling is the number of assignments a job gets before a
	// further failure is final.
	DefaultRetryCeiling = 3
	// DefaultHeartbeatTimeout is the silence after which a worker is lost.
	DefaultHeartbeatTimeout = 30 * time.Second
)

// Journal persists job records. *queue.Store satisfies it.
type Journal interface {
	Save(ctx context.Context, job *queue.Job) error
}

// Options configures a Scheduler.
type Options struct {
	RetryCeiling     int
	HeartbeatTimeout time.Duration
	StartPaused      bool
	Journal          Journal
	Logger           *slog.Logger
	Clock            func() time.Time
	// Queue lets callers supply a queue with custom id generation. A fresh
	// queue is created when nil.
	Queue *queue.Queue
	// OnFatal is invoked once, under the scheduler lock, when a storage or
	// invariant fault makes the state untrustworthy. It must not block or call
	// back into the Scheduler.
	OnFatal func(error)
	// OnEvent receives job outcomes and lost workers. Same rules as OnFatal.
	OnEvent func(Event)
}

// EventKind names a scheduler outcome worth announcing.
type EventKind string

const (
	EventJobSucceeded EventKind = "job_succeeded"
	EventJobFailed    EventKind = "job_failed"
	EventWorkerLost   EventKind = "worker_lost"
)

// Event is a snapshot taken at the moment of the outcome.
type Event struct {
	Kind     EventKind
	Job      queue.Job
	WorkerID string
}

// Report is a worker's final word on a job.
type Report struct {
	Status  queue.Status
	Result  string
	Error   string
	LogTail []string
}

// Stats summarizes farm state for status endpoints.
type Stats struct {
	Jobs    queue.Stats
	Workers map[registry.State]int
	Paused  bool
}

// Scheduler is the single writer of job and worker state. Every mutation,
// including the assignment pairing, runs inside one critical section.
type Scheduler struct {
	mu           sync.RWMutex
	jobs         *queue.Queue
	workers      *registry.Registry
	retryCeiling int
	timeout      time.Duration
	paused       bool
	journal      Journal
	logger       *slog.Logger
	now          func() time.Time
	onFatal      func(error)
	onEvent      func(Event)
	fatal        error
}

// New constructs a Scheduler.
func New(opts Options) *Scheduler {
	s := &Scheduler{
		jobs:         opts.Queue,
		workers:      registry.New(),
		retryCeiling: opts.RetryCeiling,
		timeout:      opts.HeartbeatTimeout,
		paused:       opts.StartPaused,
		journal:      opts.Journal,
		logger:       logging.NewComponentLogger(opts.Logger, "scheduler"),
		now:          opts.Clock,
		onFatal:      opts.OnFatal,
		onEvent:      opts.OnEvent,
	}
	if s.jobs == nil {
		s.jobs = queue.New(queue.WithClock(opts.Clock))
	}
	if s.retryCeiling <= 0 {
		s.retryCeiling = DefaultRetryCeiling
	}
	if s.timeout <= 0 {
		s.timeout = DefaultHeartbeatTimeout
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// Restore replays journaled jobs into an empty scheduler. In-flight jobs lost
// their workers with the previous master and go back to pending.
func (s *Scheduler) Restore(ctx context.Context, jobs []*queue.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reset, err := s.jobs.Restore(jobs)
	if err != nil {
		return s.fail(invariant(err, "restore journal"))
	}
	for _, job := range reset {
		s.logger.Info("requeued job left in flight by previous master",
			logging.Args(logging.JobID(job.ID), logging.Int("attempt_count", job.AttemptCount))...)
		if err := s.persist(ctx, job); err != nil {
			return err
		}
	}
	if len(jobs) > 0 {
		stats := s.jobs.Stats()
		s.logger.Info("journal restored",
			logging.Int("jobs", stats.Total()),
			logging.Int("pending", stats[queue.StatusPending]),
		)
	}
	return nil
}

// Submit validates and enqueues a job, then runs a cycle so an idle worker
// can pick it up immediately.
func (s *Scheduler) Submit(ctx context.Context, spec queue.Spec) (*queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatal != nil {
		return nil, s.fatal
	}

	job, err := s.jobs.Submit(spec)
	if err != nil {
		return nil, err
	}
	s.logger.Info("job submitted",
		logging.Args(
			logging.JobID(job.ID),
			logging.String("source", job.Source),
			logging.String("destination", job.Destination),
		)...)
	if err := s.persist(ctx, job); err != nil {
		return nil, err
	}
	if err := s.cycleLocked(ctx); err != nil {
		return nil, err
	}
	return s.jobs.Get(job.ID)
}

// Retry resubmits a failed job as a new pending job.
func (s *Scheduler) Retry(ctx context.Context, jobID string) (*queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatal != nil {
		return nil, s.fatal
	}

	job, err := s.jobs.Resubmit(jobID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("failed job resubmitted",
		logging.Args(logging.JobID(job.ID), logging.String("retry_of", jobID))...)
	if err := s.persist(ctx, job); err != nil {
		return nil, err
	}
	if err := s.cycleLocked(ctx); err != nil {
		return nil, err
	}
	return s.jobs.Get(job.ID)
}

// Register records a worker and runs a cycle.
func (s *Scheduler) Register(ctx context.Context, workerID, name, address string) (*registry.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatal != nil {
		return nil, s.fatal
	}

	worker, created, err := s.workers.Register(workerID, name, address, s.now())
	if err != nil {
		return nil, err
	}
	if created {
		s.logger.Info("worker registered",
			logging.Args(logging.WorkerID(worker.ID), logging.String("name", worker.Name), logging.String("address", worker.Address))...)
	} else {
		s.logger.Info("worker re-registered",
			logging.Args(logging.WorkerID(worker.ID), logging.String("state", string(worker.State)))...)
	}
	if err := s.cycleLocked(ctx); err != nil {
		return nil, err
	}
	return s.workers.Get(worker.ID)
}

// Heartbeat refreshes a worker's liveness and runs a cycle.
func (s *Scheduler) Heartbeat(ctx context.Context, workerID string, metrics *registry.Metrics) (*registry.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatal != nil {
		return nil, s.fatal
	}

	before, err := s.workers.Get(workerID)
	if err != nil {
		return nil, err
	}
	if _, err := s.workers.Heartbeat(workerID, s.now(), metrics); err != nil {
		return nil, err
	}
	if before.State == registry.StateUnreachable {
		s.logger.Info("unreachable worker resumed heartbeats", logging.Args(logging.WorkerID(workerID))...)
	}
	if err := s.cycleLocked(ctx); err != nil {
		return nil, err
	}
	return s.workers.Get(workerID)
}

// RequestAssignment is a worker's poll. It counts as contact, runs a cycle,
// and returns the job held by the worker (moving it to running), or nil.
func (s *Scheduler) RequestAssignment(ctx context.Context, workerID string) (*queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatal != nil {
		return nil, s.fatal
	}

	if _, err := s.workers.Heartbeat(workerID, s.now(), nil); err != nil {
		return nil, err
	}
	if err := s.cycleLocked(ctx); err != nil {
		return nil, err
	}

	worker, err := s.workers.Get(workerID)
	if err != nil {
		return nil, err
	}
	if worker.CurrentJob == "" {
		return nil, nil
	}
	job, err := s.jobs.Get(worker.CurrentJob)
	if err != nil {
		return nil, s.fail(invariant(err, "worker %s holds missing job %s", workerID, worker.CurrentJob))
	}
	if job.Status == queue.StatusAssigned {
		jobID := job.ID
		job, err = s.jobs.Mark(jobID, queue.StatusRunning, "", "")
		if err != nil {
			return nil, s.fail(invariant(err, "start job %s", jobID))
		}
		s.logger.Info("job started",
			logging.Args(logging.JobID(job.ID), logging.WorkerID(workerID), logging.Int("attempt", job.AttemptCount))...)
		if err := s.persist(ctx, job); err != nil {
			return nil, err
		}
	}
	return job, nil
}

// Progress records encoder progress from the worker holding the job.
func (s *Scheduler) Progress(ctx context.Context, jobID, workerID string, percent float64, message string) (*queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatal != nil {
		return nil, s.fatal
	}

	job, err := s.jobs.Get(jobID)
	if err != nil {
		return nil, err
	}
	if job.AssignedWorker != workerID || job.Status.IsTerminal() {
		return nil, staleReport(jobID, workerID, job.AssignedWorker)
	}
	if _, err := s.workers.Heartbeat(workerID, s.now(), nil); err != nil {
		return nil, err
	}
	if job.Status == queue.StatusAssigned {
		if job, err = s.jobs.Mark(jobID, queue.StatusRunning, "", ""); err != nil {
			return nil, err
		}
	}
	return s.jobs.SetProgress(jobID, percent, message)
}

// Report applies a worker's completion report. Reports from a worker that no
// longer holds the job return ErrStaleReport and change nothing.
func (s *Scheduler) Report(ctx context.Context, jobID, workerID string, report Report) (*queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatal != nil {
		return nil, s.fatal
	}

	job, err := s.jobs.Get(jobID)
	if err != nil {
		return nil, err
	}
	if !report.Status.IsTerminal() {
		return nil, errors.Wrapf(queue.ErrIllegalTransition, "report status must be succeeded or failed, got %q", report.Status)
	}
	if job.AssignedWorker != workerID || !job.Status.IsInFlight() {
		err := staleReport(jobID, workerID, job.AssignedWorker)
		logging.WarnWithContext(s.logger, "discarded stale report", "stale_report",
			logging.JobID(jobID),
			logging.WorkerID(workerID),
			logging.String("job_status", string(job.Status)),
			logging.String("assigned_worker", job.AssignedWorker),
			logging.String(logging.FieldErrorHint, "the job was reassigned after this worker missed heartbeats"),
			logging.String(logging.FieldImpact, "the late result is ignored"),
		)
		return nil, err
	}

	if len(report.LogTail) > 0 {
		if err := s.jobs.SetLogTail(jobID, report.LogTail); err != nil {
			return nil, err
		}
	}

	switch {
	case report.Status == queue.StatusSucceeded:
		job, err = s.jobs.Mark(jobID, queue.StatusSucceeded, report.Result, "")
		if err == nil {
			s.logger.Info("job succeeded",
				logging.Args(logging.JobID(jobID), logging.WorkerID(workerID), logging.String("result", report.Result))...)
		}
	case job.AttemptCount < s.retryCeiling:
		job, err = s.jobs.Requeue(jobID)
		if err == nil {
			logging.WarnWithContext(s.logger, "job failed; requeued", "job_retry",
				logging.JobID(jobID),
				logging.WorkerID(workerID),
				logging.Int("attempt", job.AttemptCount),
				logging.Int("retry_ceiling", s.retryCeiling),
				logging.String("reason", report.Error),
				logging.String(logging.FieldImpact, "job will run again on the next idle worker"),
			)
		}
	default:
		job, err = s.jobs.Mark(jobID, queue.StatusFailed, "", report.Error)
		if err == nil {
			logging.ErrorWithContext(s.logger, "job failed", "job_failed",
				logging.JobID(jobID),
				logging.WorkerID(workerID),
				logging.Int("attempt", job.AttemptCount),
				logging.String("reason", report.Error),
				logging.String(logging.FieldErrorHint, "inspect the log tail with 'ffarm jobs show'"),
			)
		}
	}
	if err != nil {
		return nil, s.fail(invariant(err, "apply report for job %s", jobID))
	}
	if err := s.workers.MarkIdle(workerID); err != nil {
		return nil, s.fail(invariant(err, "release worker %s", workerID))
	}
	if err := s.persist(ctx, job); err != nil {
		return nil, err
	}
	switch job.Status {
	case queue.StatusSucceeded:
		s.emit(EventJobSucceeded, job, workerID)
	case queue.StatusFailed:
		s.emit(EventJobFailed, job, workerID)
	}
	if err := s.cycleLocked(ctx); err != nil {
		return nil, err
	}
	return s.jobs.Get(jobID)
}

// Cycle runs one coordination pass: sweep, then assignment.
func (s *Scheduler) Cycle(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatal != nil {
		return s.fatal
	}
	return s.cycleLocked(ctx)
}

func (s *Scheduler) cycleLocked(ctx context.Context) error {
	for _, lost := range s.workers.Sweep(s.now(), s.timeout) {
		if lost.JobID == "" {
			logging.WarnWithContext(s.logger, "worker lost", "worker_lost",
				logging.WorkerID(lost.WorkerID),
				logging.Duration("heartbeat_timeout", s.timeout),
				logging.String(logging.FieldErrorHint, "check the worker host and its network path to the master"),
				logging.String(logging.FieldImpact, "worker removed from assignment until it registers again"),
			)
			s.emit(EventWorkerLost, &queue.Job{}, lost.WorkerID)
			continue
		}
		if err := s.reclaimLocked(ctx, lost); err != nil {
			return err
		}
	}
	if s.paused {
		return nil
	}
	for {
		next := s.jobs.NextPending()
		if next == nil {
			break
		}
		idle := s.workers.Assignable()
		if len(idle) == 0 {
			break
		}
		if err := s.assignLocked(ctx, next.ID, idle[0].ID); err != nil {
			return err
		}
	}
	return s.checkInvariantsLocked()
}

func (s *Scheduler) reclaimLocked(ctx context.Context, lost registry.Lost) error {
	job, err := s.jobs.Get(lost.JobID)
	if err != nil {
		return s.fail(invariant(err, "worker %s held missing job %s", lost.WorkerID, lost.JobID))
	}
	if job.AttemptCount < s.retryCeiling {
		job, err = s.jobs.Requeue(job.ID)
	} else {
		job, err = s.jobs.Mark(job.ID, queue.StatusFailed, "", ErrExceededRetries.Error())
	}
	if err != nil {
		return s.fail(invariant(err, "reclaim job %s from worker %s", lost.JobID, lost.WorkerID))
	}
	logging.WarnWithContext(s.logger, "worker lost; reclaimed its job", "worker_lost",
		logging.WorkerID(lost.WorkerID),
		logging.JobID(job.ID),
		logging.Int("attempt_count", job.AttemptCount),
		logging.String("job_status", string(job.Status)),
		logging.Duration("heartbeat_timeout", s.timeout),
		logging.String(logging.FieldErrorHint, "check the worker host and its network path to the master"),
		logging.String(logging.FieldImpact, "in-flight encode abandoned"),
	)
	if err := s.persist(ctx, job); err != nil {
		return err
	}
	s.emit(EventWorkerLost, job, lost.WorkerID)
	if job.Status == queue.StatusFailed {
		s.emit(EventJobFailed, job, lost.WorkerID)
	}
	return nil
}

func (s *Scheduler) emit(kind EventKind, job *queue.Job, workerID string) {
	if s.onEvent == nil || job == nil {
		return
	}
	s.onEvent(Event{Kind: kind, Job: *job.Clone(), WorkerID: workerID})
}

func (s *Scheduler) assignLocked(ctx context.Context, jobID, workerID string) error {
	job, err := s.jobs.Assign(jobID, workerID)
	if err != nil {
		return s.fail(invariant(err, "assign job %s", jobID))
	}
	if err := s.workers.MarkBusy(workerID, jobID); err != nil {
		return s.fail(invariant(err, "pair worker %s with job %s", workerID, jobID))
	}
	s.logger.Info("job assigned",
		logging.Args(logging.JobID(jobID), logging.WorkerID(workerID), logging.Int("attempt", job.AttemptCount))...)
	return s.persist(ctx, job)
}

// checkInvariantsLocked verifies Job.assigned_worker and Worker.current_job
// agree for every in-flight job.
func (s *Scheduler) checkInvariantsLocked() error {
	holders := make(map[string]string)
	for _, w := range s.workers.List() {
		if w.CurrentJob == "" {
			continue
		}
		if other, dup := holders[w.CurrentJob]; dup {
			return s.fail(errors.Mark(errors.Newf("job %s held by workers %s and %s", w.CurrentJob, other, w.ID), ErrInvariant))
		}
		holders[w.CurrentJob] = w.ID
	}
	inFlight := s.jobs.List(queue.StatusAssigned, queue.StatusRunning)
	for _, job := range inFlight {
		if holders[job.ID] != job.AssignedWorker {
			return s.fail(errors.Mark(errors.Newf("job %s assigned to %q but held by %q", job.ID, job.AssignedWorker, holders[job.ID]), ErrInvariant))
		}
	}
	if len(inFlight) != len(holders) {
		return s.fail(errors.Mark(errors.Newf("%d workers hold jobs but %d jobs are in flight", len(holders), len(inFlight)), ErrInvariant))
	}
	return nil
}

// CheckInvariants verifies the job/worker pairing.
func (s *Scheduler) CheckInvariants() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkInvariantsLocked()
}

// Pause stops new assignments. Running jobs continue. It reports whether the
// state changed.
func (s *Scheduler) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return false
	}
	s.paused = true
	s.logger.Info("queue paused")
	return true
}

// Resume re-enables assignment and runs a cycle.
func (s *Scheduler) Resume(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatal != nil {
		return false, s.fatal
	}
	if !s.paused {
		return false, nil
	}
	s.paused = false
	s.logger.Info("queue resumed")
	return true, s.cycleLocked(ctx)
}

// Paused reports whether assignment is suspended.
func (s *Scheduler) Paused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

// Drain lets a worker finish its current job but withholds new ones.
func (s *Scheduler) Drain(ctx context.Context, workerID string) (*registry.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatal != nil {
		return nil, s.fatal
	}
	worker, err := s.workers.SetDraining(workerID, true)
	if err != nil {
		return nil, err
	}
	s.logger.Info("worker draining", logging.Args(logging.WorkerID(workerID))...)
	return worker, nil
}

// Undrain returns a drained worker to the assignable pool.
func (s *Scheduler) Undrain(ctx context.Context, workerID string) (*registry.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatal != nil {
		return nil, s.fatal
	}
	if _, err := s.workers.SetDraining(workerID, false); err != nil {
		return nil, err
	}
	s.logger.Info("worker accepting jobs", logging.Args(logging.WorkerID(workerID))...)
	if err := s.cycleLocked(ctx); err != nil {
		return nil, err
	}
	return s.workers.Get(workerID)
}

// GetJob returns one job.
func (s *Scheduler) GetJob(jobID string) (*queue.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs.Get(jobID)
}

// ListJobs returns jobs in submission order, optionally filtered by status.
func (s *Scheduler) ListJobs(statuses ...queue.Status) []*queue.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs.List(statuses...)
}

// GetWorker returns one worker.
func (s *Scheduler) GetWorker(workerID string) (*registry.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workers.Get(workerID)
}

// ListWorkers returns workers in registration order.
func (s *Scheduler) ListWorkers() []*registry.Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workers.List()
}

// Stats returns job and worker counts.
func (s *Scheduler) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Jobs: s.jobs.Stats(), Workers: s.workers.Counts(), Paused: s.paused}
}

// Err returns the fatal fault that stopped the scheduler, if any.
func (s *Scheduler) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fatal
}

// Sources returns the source path of every job that is not failed, used by
// the hot folder to avoid double submission.
func (s *Scheduler) Sources() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, job := range s.jobs.List() {
		if job.Status != queue.StatusFailed && !slices.Contains(out, job.Source) {
			out = append(out, job.Source)
		}
	}
	return out
}

func (s *Scheduler) persist(ctx context.Context, job *queue.Job) error {
	if s.journal == nil || job == nil {
		return nil
	}
	if err := s.journal.Save(ctx, job); err != nil {
		return s.fail(errors.Mark(errors.Wrapf(err, "journal job %s", job.ID), ErrStorage))
	}
	return nil
}

func (s *Scheduler) fail(err error) error {
	if s.fatal == nil {
		s.fatal = err
		logging.ErrorWithContext(s.logger, "scheduler halted", "scheduler_fatal",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "restart the master; job state is reloaded from the journal"),
		)
		if s.onFatal != nil {
			s.onFatal(err)
		}
	}
	return s.fatal
}
