package master

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ffarm/internal/api"
	"ffarm/internal/config"
	"ffarm/internal/logging"
	"ffarm/internal/notifications"
	"ffarm/internal/queue"
	"ffarm/internal/registry"
	"ffarm/internal/scheduler"
	"ffarm/internal/testsupport"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func startMaster(t *testing.T, cfg *config.Config, store *queue.Store, clock *testClock, opts ...Option) (*Master, *api.Client) {
	t.Helper()
	m, err := New(cfg, store, logging.NewNop(), append([]Option{WithClock(clock.Now)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(m.Stop)

	client, err := api.NewClient(m.Addr(), cfg.Master.APIToken, 5*time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return m, client
}

func newClock() *testClock {
	return &testClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func TestSingleWorkerCompletesJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	_, client := startMaster(t, cfg, nil, newClock())
	ctx := context.Background()

	submitted, err := client.SubmitJob(ctx, api.SubmitRequest{Source: "/in/J1.mkv", Destination: "/out/J1.mkv"})
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	if submitted.Status != string(queue.StatusPending) {
		t.Fatalf("expected pending with no workers, got %s", submitted.Status)
	}

	if _, err := client.Register(ctx, api.RegisterRequest{WorkerID: "W1"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	job, err := client.GetJob(ctx, submitted.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != string(queue.StatusAssigned) || job.AssignedWorker != "W1" || job.AttemptCount != 1 {
		t.Fatalf("unexpected job after registration: %+v", job)
	}

	assigned, err := client.Assignment(ctx, "W1")
	if err != nil || assigned == nil {
		t.Fatalf("Assignment: %v %v", assigned, err)
	}
	done, err := client.ReportResult(ctx, assigned.ID, api.ResultRequest{WorkerID: "W1", Status: "succeeded", Result: "/out/J1.mkv"})
	if err != nil {
		t.Fatalf("ReportResult: %v", err)
	}
	if done.Status != string(queue.StatusSucceeded) {
		t.Fatalf("expected succeeded, got %s", done.Status)
	}

	workers, err := client.ListWorkers(ctx)
	if err != nil {
		t.Fatalf("ListWorkers: %v", err)
	}
	if len(workers) != 1 || workers[0].State != string(registry.StateIdle) {
		t.Fatalf("expected W1 idle, got %+v", workers)
	}
}

func TestLostWorkerJobReassigned(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	clock := newClock()
	m, client := startMaster(t, cfg, nil, clock)
	ctx := context.Background()

	if _, err := client.Register(ctx, api.RegisterRequest{WorkerID: "W2"}); err != nil {
		t.Fatalf("Register W2: %v", err)
	}
	job, err := client.SubmitJob(ctx, api.SubmitRequest{Source: "/in/J2.mkv", Destination: "/out/J2.mkv"})
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	if job.AssignedWorker != "W2" {
		t.Fatalf("expected W2 assignment, got %+v", job)
	}

	clock.Advance(cfg.HeartbeatTimeout() + time.Second)
	if err := m.Scheduler().Cycle(ctx); err != nil {
		t.Fatalf("Cycle: %v", err)
	}

	job, _ = client.GetJob(ctx, job.ID)
	if job.Status != string(queue.StatusPending) || job.AttemptCount != 1 {
		t.Fatalf("expected pending with attempt 1, got %+v", job)
	}
	workers, _ := client.ListWorkers(ctx)
	if workers[0].State != string(registry.StateUnreachable) {
		t.Fatalf("expected W2 unreachable, got %+v", workers[0])
	}

	if _, err := client.Register(ctx, api.RegisterRequest{WorkerID: "W3"}); err != nil {
		t.Fatalf("Register W3: %v", err)
	}
	assigned, err := client.Assignment(ctx, "W3")
	if err != nil || assigned == nil {
		t.Fatalf("Assignment W3: %v %v", assigned, err)
	}
	if assigned.ID != job.ID || assigned.AttemptCount != 2 {
		t.Fatalf("expected J2 attempt 2 on W3, got %+v", assigned)
	}

	_, err = client.ReportResult(ctx, job.ID, api.ResultRequest{WorkerID: "W2", Status: "succeeded"})
	if !errors.Is(err, scheduler.ErrStaleReport) {
		t.Fatalf("expected stale report from W2, got %v", err)
	}
}

func TestJournalSurvivesRestart(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithJournal())
	clock := newClock()

	store := testsupport.MustOpenStore(t, cfg)
	m, client := startMaster(t, cfg, store, clock)
	ctx := context.Background()
	if _, err := client.Register(ctx, api.RegisterRequest{WorkerID: "W1"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	job, err := client.SubmitJob(ctx, api.SubmitRequest{Source: "a", Destination: "b"})
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	m.Stop()
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	reopened := testsupport.MustOpenStore(t, cfg)
	_, client = startMaster(t, cfg, reopened, clock)
	restored, err := client.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob after restart: %v", err)
	}
	if restored.Status != string(queue.StatusPending) || restored.AttemptCount != 1 || restored.AssignedWorker != "" {
		t.Fatalf("in-flight job should come back pending with its attempt, got %+v", restored)
	}
}

func TestSecondMasterRefused(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	startMaster(t, cfg, nil, newClock())

	other, err := New(cfg, nil, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := other.Start(context.Background()); err == nil {
		other.Stop()
		t.Fatal("expected lock contention error")
	}
}

func TestJournalFailureRaisesFatal(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithJournal())
	store := testsupport.MustOpenStore(t, cfg)
	m, client := startMaster(t, cfg, store, newClock())
	ctx := context.Background()

	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}
	_, err := client.SubmitJob(ctx, api.SubmitRequest{Source: "a", Destination: "b"})
	var apiErr *api.Error
	if !errors.As(err, &apiErr) || apiErr.Code != api.CodeStorage {
		t.Fatalf("expected storage error, got %v", err)
	}

	select {
	case fatal := <-m.Fatal():
		if !scheduler.IsFatal(fatal) {
			t.Fatalf("unexpected fatal error %v", fatal)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fatal hook did not fire")
	}

	if err := client.Health(ctx); err == nil {
		t.Fatal("healthz must fail once the scheduler has halted")
	}
}

func TestAPITokenRequired(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAPIToken("s3cret"))
	m, _ := startMaster(t, cfg, nil, newClock())

	anonymous, err := api.NewClient(m.Addr(), "", time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := anonymous.Health(context.Background()); err != nil {
		t.Fatalf("healthz should be open: %v", err)
	}
	_, err = anonymous.ListJobs(context.Background(), "")
	var apiErr *api.Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 401 {
		t.Fatalf("expected 401, got %v", err)
	}
}

type publishedEvent struct {
	event   notifications.Event
	payload notifications.Payload
}

type recordingNotifier struct {
	ch chan publishedEvent
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	r.ch <- publishedEvent{event: event, payload: payload}
	return nil
}

func TestJobOutcomesArePublished(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Scheduler.RetryCeiling = 1
	rec := &recordingNotifier{ch: make(chan publishedEvent, 4)}
	_, client := startMaster(t, cfg, nil, newClock(), WithNotifications(rec))
	ctx := context.Background()

	if _, err := client.Register(ctx, api.RegisterRequest{WorkerID: "W1"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	job, err := client.SubmitJob(ctx, api.SubmitRequest{Source: "/in/J5.mkv", Destination: "/out/J5.mkv"})
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	if _, err := client.ReportResult(ctx, job.ID, api.ResultRequest{WorkerID: "W1", Status: "failed", Error: "FFmpeg failed"}); err != nil {
		t.Fatalf("ReportResult: %v", err)
	}

	select {
	case got := <-rec.ch:
		if got.event != notifications.EventJobFailed {
			t.Fatalf("event = %s, want %s", got.event, notifications.EventJobFailed)
		}
		if got.payload["job"] != job.ID || got.payload["error"] != "FFmpeg failed" || got.payload["attempts"] != "1" || got.payload["worker"] != "W1" {
			t.Fatalf("unexpected payload %+v", got.payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no notification published")
	}
}
