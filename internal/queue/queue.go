package queue

import (
	"cmp"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// markTransitions lists the status changes Mark accepts. Entering assigned goes
// through Assign and returning to pending goes through Requeue because both
// must also touch the assigned worker.
var markTransitions = map[Status][]Status{
	StatusPending:  {StatusFailed},
	StatusAssigned: {StatusRunning, StatusSucceeded, StatusFailed},
	StatusRunning:  {StatusSucceeded, StatusFailed},
}

// Queue is the ordered backlog of pending jobs plus the record of every job
// ever submitted. It is not safe for concurrent use; the scheduler serializes
// every call under its own lock.
type Queue struct {
	jobs    map[string]*Job
	pending []*Job
	nextSeq int64
	now     func() time.Time
	newID   func() string
}

// Option customizes a Queue.
type Option func(*Queue)

// WithClock overrides the time source used for CreatedAt/UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// WithIDGenerator overrides job id generation.
func WithIDGenerator(gen func() string) Option {
	return func(q *Queue) {
		if gen != nil {
			q.newID = gen
		}
	}
}

// New returns an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		jobs:  make(map[string]*Job),
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Submit validates spec and appends a pending job.
func (q *Queue) Submit(spec Spec) (*Job, error) {
	source := strings.TrimSpace(spec.Source)
	destination := strings.TrimSpace(spec.Destination)
	switch {
	case source == "" && destination == "":
		return nil, errors.WithHint(errors.Wrap(ErrInvalidSpec, "source and destination are required"),
			"pass both a source path and a destination path")
	case source == "":
		return nil, errors.WithHint(errors.Wrap(ErrInvalidSpec, "source is required"), "pass the input media path")
	case destination == "":
		return nil, errors.WithHint(errors.Wrap(ErrInvalidSpec, "destination is required"), "pass the output path")
	}

	now := q.now()
	q.nextSeq++
	job := &Job{
		ID:          q.newID(),
		Seq:         q.nextSeq,
		Source:      source,
		Destination: destination,
		Parameters:  maps.Clone(spec.Parameters),
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if job.Parameters == nil {
		job.Parameters = map[string]string{}
	}
	q.jobs[job.ID] = job
	q.insertPending(job)
	return job.Clone(), nil
}

// Resubmit clones a failed job into a new pending job linked through RetryOf.
// The original keeps its terminal record.
func (q *Queue) Resubmit(id string) (*Job, error) {
	orig, ok := q.jobs[id]
	if !ok {
		return nil, unknownJob(id)
	}
	if orig.Status != StatusFailed {
		return nil, errors.WithHint(illegalTransition(id, orig.Status, StatusPending),
			"only failed jobs can be retried")
	}
	job, err := q.Submit(Spec{Source: orig.Source, Destination: orig.Destination, Parameters: orig.Parameters})
	if err != nil {
		return nil, err
	}
	q.jobs[job.ID].RetryOf = orig.ID
	job.RetryOf = orig.ID
	return job, nil
}

// NextPending returns the oldest pending job without removing it, or nil.
func (q *Queue) NextPending() *Job {
	if len(q.pending) == 0 {
		return nil
	}
	return q.pending[0].Clone()
}

// PendingCount reports the backlog length.
func (q *Queue) PendingCount() int {
	return len(q.pending)
}

// Assign moves a pending job to assigned, records the worker, and counts the
// attempt.
func (q *Queue) Assign(id, workerID string) (*Job, error) {
	job, ok := q.jobs[id]
	if !ok {
		return nil, unknownJob(id)
	}
	if job.Status != StatusPending {
		return nil, illegalTransition(id, job.Status, StatusAssigned)
	}
	if strings.TrimSpace(workerID) == "" {
		return nil, errors.AssertionFailedf("assign job %s without a worker", id)
	}
	q.removePending(job)
	job.Status = StatusAssigned
	job.AssignedWorker = workerID
	job.AttemptCount++
	job.ProgressPercent = 0
	job.ProgressMessage = ""
	job.UpdatedAt = q.now()
	return job.Clone(), nil
}

// Mark applies a status change. result is recorded on success, errMsg on
// failure.
func (q *Queue) Mark(id string, status Status, result, errMsg string) (*Job, error) {
	job, ok := q.jobs[id]
	if !ok {
		return nil, unknownJob(id)
	}
	if !slices.Contains(markTransitions[job.Status], status) {
		return nil, illegalTransition(id, job.Status, status)
	}
	if job.Status == StatusPending {
		q.removePending(job)
	}
	job.Status = status
	switch status {
	case StatusSucceeded:
		job.Result = result
		job.Error = ""
		job.ProgressPercent = 100
	case StatusFailed:
		job.Error = errMsg
	}
	job.UpdatedAt = q.now()
	return job.Clone(), nil
}

// Requeue returns an in-flight job to pending and clears its worker. The
// attempt count is left untouched.
func (q *Queue) Requeue(id string) (*Job, error) {
	job, ok := q.jobs[id]
	if !ok {
		return nil, unknownJob(id)
	}
	if !job.Status.IsInFlight() {
		return nil, illegalTransition(id, job.Status, StatusPending)
	}
	job.Status = StatusPending
	job.AssignedWorker = ""
	job.ProgressPercent = 0
	job.ProgressMessage = ""
	job.UpdatedAt = q.now()
	q.insertPending(job)
	return job.Clone(), nil
}

// SetProgress records encoder progress on a running job.
func (q *Queue) SetProgress(id string, percent float64, message string) (*Job, error) {
	job, ok := q.jobs[id]
	if !ok {
		return nil, unknownJob(id)
	}
	if job.Status != StatusRunning {
		return nil, illegalTransition(id, job.Status, StatusRunning)
	}
	job.ProgressPercent = min(max(percent, 0), 100)
	job.ProgressMessage = message
	job.UpdatedAt = q.now()
	return job.Clone(), nil
}

// SetLogTail attaches the encoder's trailing output to a job.
func (q *Queue) SetLogTail(id string, lines []string) error {
	job, ok := q.jobs[id]
	if !ok {
		return unknownJob(id)
	}
	job.LogTail = slices.Clone(lines)
	return nil
}

// Get returns a copy of the job with the given id.
func (q *Queue) Get(id string) (*Job, error) {
	job, ok := q.jobs[id]
	if !ok {
		return nil, unknownJob(id)
	}
	return job.Clone(), nil
}

// List returns jobs in submission order, filtered to the given statuses when
// any are supplied.
func (q *Queue) List(statuses ...Status) []*Job {
	out := make([]*Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		if len(statuses) > 0 && !slices.Contains(statuses, job.Status) {
			continue
		}
		out = append(out, job.Clone())
	}
	slices.SortFunc(out, func(a, b *Job) int { return cmp.Compare(a.Seq, b.Seq) })
	return out
}

// Stats counts jobs per status.
func (q *Queue) Stats() Stats {
	stats := make(Stats, len(allStatuses))
	for _, status := range allStatuses {
		stats[status] = 0
	}
	for _, job := range q.jobs {
		stats[job.Status]++
	}
	return stats
}

// Restore loads previously journaled jobs into an empty queue. Jobs that were
// in flight when the master stopped have lost their worker, so they return to
// pending with their attempt count preserved. The returned slice holds those
// reset jobs so the caller can persist them.
func (q *Queue) Restore(jobs []*Job) ([]*Job, error) {
	if len(q.jobs) > 0 {
		return nil, errors.AssertionFailedf("restore into non-empty queue (%d jobs)", len(q.jobs))
	}
	var reset []*Job
	for _, stored := range jobs {
		if stored == nil || stored.ID == "" {
			continue
		}
		job := stored.Clone()
		if _, ok := q.jobs[job.ID]; ok {
			return nil, errors.AssertionFailedf("duplicate job id %s in journal", job.ID)
		}
		if job.Status.IsInFlight() {
			job.Status = StatusPending
			job.AssignedWorker = ""
			job.ProgressPercent = 0
			job.ProgressMessage = ""
			job.UpdatedAt = q.now()
			reset = append(reset, job.Clone())
		}
		if job.Parameters == nil {
			job.Parameters = map[string]string{}
		}
		q.jobs[job.ID] = job
		q.nextSeq = max(q.nextSeq, job.Seq)
		if job.Status == StatusPending {
			q.insertPending(job)
		}
	}
	return reset, nil
}

func (q *Queue) insertPending(job *Job) {
	idx, _ := slices.BinarySearchFunc(q.pending, job.Seq, func(j *Job, seq int64) int {
		return cmp.Compare(j.Seq, seq)
	})
	q.pending = slices.Insert(q.pending, idx, job)
}

func (q *Queue) removePending(job *Job) {
	idx, found := slices.BinarySearchFunc(q.pending, job.Seq, func(j *Job, seq int64) int {
		return cmp.Compare(j.Seq, seq)
	})
	if found {
		q.pending = slices.Delete(q.pending, idx, idx+1)
	}
}
