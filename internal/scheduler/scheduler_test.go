package scheduler_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ffarm/internal/queue"
	"ffarm/internal/registry"
	"ffarm/internal/scheduler"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memoryJournal struct {
	mu    sync.Mutex
	saved map[string]*queue.Job
	err   error
}

func (j *memoryJournal) Save(_ context.Context, job *queue.Job) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	if j.saved == nil {
		j.saved = map[string]*queue.Job{}
	}
	j.saved[job.ID] = job.Clone()
	return nil
}

func sequentialIDs(prefix string) func() string {
	var n int
	return func() string {
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

func newScheduler(clock *fakeClock, opts scheduler.Options) *scheduler.Scheduler {
	opts.Clock = clock.Now
	if opts.Queue == nil {
		opts.Queue = queue.New(queue.WithClock(clock.Now), queue.WithIDGenerator(sequentialIDs("J")))
	}
	return scheduler.New(opts)
}

func spec(name string) queue.Spec {
	return queue.Spec{Source: "/in/" + name + ".mkv", Destination: "/out/" + name + ".mkv"}
}

func TestSubmitAssignsToIdleWorker(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	journal := &memoryJournal{}
	s := newScheduler(clock, scheduler.Options{Journal: journal})

	_, err := s.Register(ctx, "W1", "node-a", "")
	require.NoError(t, err)

	job, err := s.Submit(ctx, spec("J1"))
	require.NoError(t, err)
	assert.Equal(t, queue.StatusAssigned, job.Status)
	assert.Equal(t, "W1", job.AssignedWorker)
	assert.Equal(t, 1, job.AttemptCount)

	worker, err := s.GetWorker("W1")
	require.NoError(t, err)
	assert.Equal(t, registry.StateBusy, worker.State)
	assert.Equal(t, job.ID, worker.CurrentJob)

	assert.Equal(t, queue.StatusAssigned, journal.saved[job.ID].Status)
}

func TestSubmitRejectsInvalidSpec(t *testing.T) {
	s := newScheduler(newFakeClock(), scheduler.Options{})
	_, err := s.Submit(context.Background(), queue.Spec{Source: "/in/a.mkv"})
	require.ErrorIs(t, err, queue.ErrInvalidSpec)
	assert.Empty(t, s.ListJobs())
	assert.NoError(t, s.Err())
}

func TestSuccessfulJobReleasesWorker(t *testing.T) {
	ctx := context.Background()
	s := newScheduler(newFakeClock(), scheduler.Options{})

	_, err := s.Register(ctx, "W1", "", "")
	require.NoError(t, err)
	job, err := s.Submit(ctx, spec("J1"))
	require.NoError(t, err)
	require.Equal(t, "W1", job.AssignedWorker)
	require.Equal(t, 1, job.AttemptCount)

	polled, err := s.RequestAssignment(ctx, "W1")
	require.NoError(t, err)
	require.NotNil(t, polled)
	assert.Equal(t, queue.StatusRunning, polled.Status)

	again, err := s.RequestAssignment(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, job.ID, again.ID, "a running job is handed back on repeat polls")

	done, err := s.Report(ctx, job.ID, "W1", scheduler.Report{Status: queue.StatusSucceeded, Result: "/out/J1.mkv"})
	require.NoError(t, err)
	assert.Equal(t, queue.StatusSucceeded, done.Status)
	assert.Equal(t, "/out/J1.mkv", done.Result)

	worker, err := s.GetWorker("W1")
	require.NoError(t, err)
	assert.Equal(t, registry.StateIdle, worker.State)
	assert.Empty(t, worker.CurrentJob)

	idle, err := s.RequestAssignment(ctx, "W1")
	require.NoError(t, err)
	assert.Nil(t, idle)
}

func TestLapsedWorkerJobMovesToNextWorker(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newScheduler(clock, scheduler.Options{HeartbeatTimeout: 30 * time.Second})

	_, err := s.Register(ctx, "W2", "", "")
	require.NoError(t, err)
	job, err := s.Submit(ctx, spec("J2"))
	require.NoError(t, err)
	require.Equal(t, "W2", job.AssignedWorker)

	clock.Advance(31 * time.Second)
	require.NoError(t, s.Cycle(ctx))

	job, err = s.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusPending, job.Status)
	assert.Equal(t, 1, job.AttemptCount)
	assert.Empty(t, job.AssignedWorker)

	w2, err := s.GetWorker("W2")
	require.NoError(t, err)
	assert.Equal(t, registry.StateUnreachable, w2.State)
	assert.Empty(t, w2.CurrentJob)

	_, err = s.Register(ctx, "W3", "", "")
	require.NoError(t, err)
	job, err = s.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusAssigned, job.Status)
	assert.Equal(t, "W3", job.AssignedWorker)
	assert.Equal(t, 2, job.AttemptCount)

	_, err = s.Report(ctx, job.ID, "W2", scheduler.Report{Status: queue.StatusSucceeded, Result: "late"})
	require.ErrorIs(t, err, scheduler.ErrStaleReport)

	job, err = s.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusAssigned, job.Status, "stale report must not change the job")
	assert.Equal(t, "W3", job.AssignedWorker)
	require.NoError(t, s.CheckInvariants())
}

func TestHeartbeatKeepsWorkerAlive(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newScheduler(clock, scheduler.Options{HeartbeatTimeout: 30 * time.Second})

	_, err := s.Register(ctx, "W1", "", "")
	require.NoError(t, err)
	job, err := s.Submit(ctx, spec("long"))
	require.NoError(t, err)

	for range 10 {
		clock.Advance(10 * time.Second)
		_, err := s.Heartbeat(ctx, "W1", &registry.Metrics{CPUPercent: 95})
		require.NoError(t, err)
	}

	job, err = s.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "W1", job.AssignedWorker)
	assert.Equal(t, 1, job.AttemptCount)

	worker, err := s.GetWorker("W1")
	require.NoError(t, err)
	assert.Equal(t, registry.StateBusy, worker.State)
	assert.Equal(t, 95.0, worker.Metrics.CPUPercent)

	_, err = s.Heartbeat(ctx, "ghost", nil)
	require.ErrorIs(t, err, registry.ErrUnknownWorker)
}

func TestFailedReportsStopAtRetryCeiling(t *testing.T) {
	ctx := context.Background()
	s := newScheduler(newFakeClock(), scheduler.Options{RetryCeiling: 3})

	_, err := s.Register(ctx, "W1", "", "")
	require.NoError(t, err)
	job, err := s.Submit(ctx, spec("bad"))
	require.NoError(t, err)

	for attempt := 1; attempt <= 3; attempt++ {
		current, err := s.GetJob(job.ID)
		require.NoError(t, err)
		require.Equal(t, attempt, current.AttemptCount)
		require.Equal(t, "W1", current.AssignedWorker)

		after, err := s.Report(ctx, job.ID, "W1", scheduler.Report{
			Status:  queue.StatusFailed,
			Error:   "FFmpeg failed",
			LogTail: []string{"Invalid data found when processing input"},
		})
		require.NoError(t, err)
		if attempt < 3 {
			assert.Equal(t, queue.StatusAssigned, after.Status, "requeued job is reassigned right away")
		} else {
			assert.Equal(t, queue.StatusFailed, after.Status)
			assert.Equal(t, "FFmpeg failed", after.Error)
			assert.Equal(t, []string{"Invalid data found when processing input"}, after.LogTail)
		}
	}

	worker, err := s.GetWorker("W1")
	require.NoError(t, err)
	assert.Equal(t, registry.StateIdle, worker.State)
}

func TestLapsesCountTowardRetryCeiling(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newScheduler(clock, scheduler.Options{RetryCeiling: 2, HeartbeatTimeout: 30 * time.Second})

	job, err := s.Submit(ctx, spec("cursed"))
	require.NoError(t, err)

	for i := 1; i <= 2; i++ {
		_, err := s.Register(ctx, fmt.Sprintf("W%d", i), "", "")
		require.NoError(t, err)
		clock.Advance(time.Minute)
		require.NoError(t, s.Cycle(ctx))
	}

	job, err = s.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, job.Status)
	assert.Equal(t, 2, job.AttemptCount)
	assert.Equal(t, scheduler.ErrExceededRetries.Error(), job.Error)
	assert.NotEmpty(t, job.AssignedWorker, "terminal jobs keep the last worker for reference")
	require.NoError(t, s.CheckInvariants())
}

func TestEventsAnnounceOutcomes(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	var events []scheduler.Event
	s := newScheduler(clock, scheduler.Options{
		RetryCeiling:     1,
		HeartbeatTimeout: 30 * time.Second,
		OnEvent:          func(ev scheduler.Event) { events = append(events, ev) },
	})

	_, err := s.Register(ctx, "W1", "", "")
	require.NoError(t, err)
	good, err := s.Submit(ctx, spec("good"))
	require.NoError(t, err)
	_, err = s.Report(ctx, good.ID, "W1", scheduler.Report{Status: queue.StatusSucceeded, Result: "/out/good.mkv"})
	require.NoError(t, err)

	lost, err := s.Submit(ctx, spec("lost"))
	require.NoError(t, err)
	clock.Advance(time.Minute)
	require.NoError(t, s.Cycle(ctx))

	require.Len(t, events, 3)
	assert.Equal(t, scheduler.EventJobSucceeded, events[0].Kind)
	assert.Equal(t, "/out/good.mkv", events[0].Job.Result)
	assert.Equal(t, scheduler.EventWorkerLost, events[1].Kind)
	assert.Equal(t, "W1", events[1].WorkerID)
	assert.Equal(t, lost.ID, events[1].Job.ID)
	assert.Equal(t, scheduler.EventJobFailed, events[2].Kind)
	assert.Equal(t, queue.StatusFailed, events[2].Job.Status)
}

func TestIdleWorkerLossIsAnnounced(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	var events []scheduler.Event
	s := newScheduler(clock, scheduler.Options{
		HeartbeatTimeout: 30 * time.Second,
		OnEvent:          func(ev scheduler.Event) { events = append(events, ev) },
	})

	_, err := s.Register(ctx, "W1", "", "")
	require.NoError(t, err)
	clock.Advance(31 * time.Second)
	require.NoError(t, s.Cycle(ctx))

	w1, err := s.GetWorker("W1")
	require.NoError(t, err)
	assert.Equal(t, registry.StateUnreachable, w1.State)
	require.Len(t, events, 1)
	assert.Equal(t, scheduler.EventWorkerLost, events[0].Kind)
	assert.Equal(t, "W1", events[0].WorkerID)
	assert.Empty(t, events[0].Job.ID)

	require.NoError(t, s.Cycle(ctx))
	assert.Len(t, events, 1, "a lost worker is announced once")
}

func TestConcurrentWorkersNeverShareAJob(t *testing.T) {
	ctx := context.Background()
	s := newScheduler(newFakeClock(), scheduler.Options{HeartbeatTimeout: time.Hour})

	const jobCount = 50
	const workerCount = 20
	for i := 0; i < jobCount; i++ {
		_, err := s.Submit(ctx, spec(fmt.Sprintf("c%d", i)))
		require.NoError(t, err)
	}

	var (
		mu       sync.Mutex
		finished = map[string]string{}
		failures []error
	)
	record := func(err error) {
		mu.Lock()
		failures = append(failures, err)
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for w := 0; w < workerCount; w++ {
		workerID := fmt.Sprintf("W%d", w)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Register(ctx, workerID, "", ""); err != nil {
				record(err)
				return
			}
			for round := 0; round < 10*jobCount; round++ {
				job, err := s.RequestAssignment(ctx, workerID)
				if err != nil {
					record(err)
					return
				}
				if job == nil {
					if len(s.ListJobs(queue.StatusPending, queue.StatusAssigned, queue.StatusRunning)) == 0 {
						return
					}
					continue
				}
				if job.AssignedWorker != workerID {
					record(fmt.Errorf("worker %s received job %s assigned to %s", workerID, job.ID, job.AssignedWorker))
					return
				}
				mu.Lock()
				if prev, dup := finished[job.ID]; dup {
					failures = append(failures, fmt.Errorf("job %s finished by %s and %s", job.ID, prev, workerID))
				}
				finished[job.ID] = workerID
				mu.Unlock()
				if _, err := s.Report(ctx, job.ID, workerID, scheduler.Report{Status: queue.StatusSucceeded}); err != nil {
					record(err)
					return
				}
				if err := s.CheckInvariants(); err != nil {
					record(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	require.Empty(t, failures)
	require.NoError(t, s.CheckInvariants())
	assert.Len(t, finished, jobCount)
	assert.Len(t, s.ListJobs(queue.StatusSucceeded), jobCount)
	for _, w := range s.ListWorkers() {
		assert.Equal(t, registry.StateIdle, w.State, "worker %s", w.ID)
	}
}

func TestReportValidation(t *testing.T) {
	ctx := context.Background()
	s := newScheduler(newFakeClock(), scheduler.Options{})
	_, err := s.Register(ctx, "W1", "", "")
	require.NoError(t, err)
	_, err = s.Register(ctx, "W2", "", "")
	require.NoError(t, err)
	job, err := s.Submit(ctx, spec("x"))
	require.NoError(t, err)

	_, err = s.Report(ctx, "missing", "W1", scheduler.Report{Status: queue.StatusSucceeded})
	require.ErrorIs(t, err, queue.ErrUnknownJob)

	_, err = s.Report(ctx, job.ID, "W1", scheduler.Report{Status: queue.StatusRunning})
	require.ErrorIs(t, err, queue.ErrIllegalTransition)

	_, err = s.Report(ctx, job.ID, "W2", scheduler.Report{Status: queue.StatusSucceeded})
	require.ErrorIs(t, err, scheduler.ErrStaleReport)

	w2, err := s.GetWorker("W2")
	require.NoError(t, err)
	assert.Equal(t, registry.StateIdle, w2.State, "stale reporter is left alone")

	_, err = s.Report(ctx, job.ID, "W1", scheduler.Report{Status: queue.StatusSucceeded})
	require.NoError(t, err)
	_, err = s.Report(ctx, job.ID, "W1", scheduler.Report{Status: queue.StatusSucceeded})
	require.ErrorIs(t, err, scheduler.ErrStaleReport, "duplicate reports for a finished job are stale")
	assert.NoError(t, s.Err())
}

func TestProgressRequiresHolder(t *testing.T) {
	ctx := context.Background()
	s := newScheduler(newFakeClock(), scheduler.Options{})
	_, err := s.Register(ctx, "W1", "", "")
	require.NoError(t, err)
	job, err := s.Submit(ctx, spec("x"))
	require.NoError(t, err)

	updated, err := s.Progress(ctx, job.ID, "W1", 42.5, "encoding")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusRunning, updated.Status)
	assert.Equal(t, 42.5, updated.ProgressPercent)

	_, err = s.Progress(ctx, job.ID, "W9", 50, "")
	require.ErrorIs(t, err, scheduler.ErrStaleReport)
}

func TestFIFOAcrossWorkers(t *testing.T) {
	ctx := context.Background()
	s := newScheduler(newFakeClock(), scheduler.Options{})

	for _, name := range []string{"a", "b", "c"} {
		_, err := s.Submit(ctx, spec(name))
		require.NoError(t, err)
	}
	_, err := s.Register(ctx, "W1", "", "")
	require.NoError(t, err)
	_, err = s.Register(ctx, "W2", "", "")
	require.NoError(t, err)

	j1, _ := s.GetJob("J1")
	j2, _ := s.GetJob("J2")
	j3, _ := s.GetJob("J3")
	assert.Equal(t, "W1", j1.AssignedWorker)
	assert.Equal(t, "W2", j2.AssignedWorker)
	assert.Equal(t, queue.StatusPending, j3.Status)

	_, err = s.Report(ctx, "J2", "W2", scheduler.Report{Status: queue.StatusSucceeded})
	require.NoError(t, err)
	j3, _ = s.GetJob("J3")
	assert.Equal(t, "W2", j3.AssignedWorker)
}

func TestPauseAndDrainWithholdAssignments(t *testing.T) {
	ctx := context.Background()
	s := newScheduler(newFakeClock(), scheduler.Options{StartPaused: true})
	_, err := s.Register(ctx, "W1", "", "")
	require.NoError(t, err)
	job, err := s.Submit(ctx, spec("x"))
	require.NoError(t, err)
	assert.Equal(t, queue.StatusPending, job.Status)
	assert.True(t, s.Paused())
	assert.False(t, s.Pause())

	_, err = s.Drain(ctx, "W1")
	require.NoError(t, err)
	changed, err := s.Resume(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	job, _ = s.GetJob(job.ID)
	assert.Equal(t, queue.StatusPending, job.Status, "draining worker gets nothing")

	_, err = s.Undrain(ctx, "W1")
	require.NoError(t, err)
	job, _ = s.GetJob(job.ID)
	assert.Equal(t, "W1", job.AssignedWorker)

	_, err = s.Drain(ctx, "ghost")
	require.ErrorIs(t, err, registry.ErrUnknownWorker)
}

func TestRetryResubmitsFailedJob(t *testing.T) {
	ctx := context.Background()
	s := newScheduler(newFakeClock(), scheduler.Options{RetryCeiling: 1})
	_, err := s.Register(ctx, "W1", "", "")
	require.NoError(t, err)
	job, err := s.Submit(ctx, spec("x"))
	require.NoError(t, err)
	_, err = s.Report(ctx, job.ID, "W1", scheduler.Report{Status: queue.StatusFailed, Error: "boom"})
	require.NoError(t, err)

	retry, err := s.Retry(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, retry.RetryOf)
	assert.Equal(t, "W1", retry.AssignedWorker)
	assert.Equal(t, 1, retry.AttemptCount)

	_, err = s.Retry(ctx, retry.ID)
	require.ErrorIs(t, err, queue.ErrIllegalTransition)
}

func TestRestoreRequeuesInFlightJobs(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	journal := &memoryJournal{}
	s := newScheduler(clock, scheduler.Options{Journal: journal})

	stored := []*queue.Job{
		{ID: "A", Seq: 1, Source: "a", Destination: "a.out", Status: queue.StatusSucceeded, AssignedWorker: "W1", AttemptCount: 1},
		{ID: "B", Seq: 2, Source: "b", Destination: "b.out", Status: queue.StatusRunning, AssignedWorker: "W1", AttemptCount: 2},
		{ID: "C", Seq: 3, Source: "c", Destination: "c.out", Status: queue.StatusPending},
	}
	require.NoError(t, s.Restore(ctx, stored))

	b, err := s.GetJob("B")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusPending, b.Status)
	assert.Equal(t, 2, b.AttemptCount)
	assert.Equal(t, queue.StatusPending, journal.saved["B"].Status)

	_, err = s.Register(ctx, "W2", "", "")
	require.NoError(t, err)
	b, _ = s.GetJob("B")
	assert.Equal(t, "W2", b.AssignedWorker)
	assert.Equal(t, 3, b.AttemptCount)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, s.Sources())
}

func TestJournalFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	journal := &memoryJournal{}
	var fatal []error
	s := newScheduler(newFakeClock(), scheduler.Options{
		Journal: journal,
		OnFatal: func(err error) { fatal = append(fatal, err) },
	})

	_, err := s.Submit(ctx, spec("ok"))
	require.NoError(t, err)

	journal.err = errors.New("disk I/O error")
	_, err = s.Submit(ctx, spec("lost"))
	require.True(t, errors.Is(err, scheduler.ErrStorage), "got %v", err)
	assert.True(t, scheduler.IsFatal(err))
	require.Len(t, fatal, 1)

	_, err = s.Register(ctx, "W1", "", "")
	require.True(t, errors.Is(err, scheduler.ErrStorage), "halted scheduler refuses further mutations")
	require.True(t, errors.Is(s.Cycle(ctx), scheduler.ErrStorage))
	assert.Len(t, fatal, 1, "OnFatal fires once")
	assert.Len(t, s.ListJobs(), 2, "reads keep working")
}

func TestStatsCountsJobsAndWorkers(t *testing.T) {
	ctx := context.Background()
	s := newScheduler(newFakeClock(), scheduler.Options{})
	_, err := s.Register(ctx, "W1", "", "")
	require.NoError(t, err)
	for _, name := range []string{"a", "b"} {
		_, err := s.Submit(ctx, spec(name))
		require.NoError(t, err)
	}

	stats := s.Stats()
	assert.Equal(t, 1, stats.Jobs[queue.StatusAssigned])
	assert.Equal(t, 1, stats.Jobs[queue.StatusPending])
	assert.Equal(t, 1, stats.Workers[registry.StateBusy])
	assert.False(t, stats.Paused)
}
