package api

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"ffarm/internal/queue"
	"ffarm/internal/registry"
	"ffarm/internal/scheduler"
)

func TestFromJobUsesSnakeCase(t *testing.T) {
	created := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	dto := FromJob(&queue.Job{
		ID:              "J1",
		Source:          "/in/a.mkv",
		Destination:     "/out/a.mkv",
		Status:          queue.StatusRunning,
		AssignedWorker:  "w1",
		AttemptCount:    2,
		ProgressPercent: 37.5,
		CreatedAt:       created,
	})
	if dto.CreatedAt != "2026-03-04T05:06:07.000Z" {
		t.Fatalf("created_at = %q", dto.CreatedAt)
	}
	if dto.Parameters == nil {
		t.Fatal("parameters must encode as an object, not null")
	}
	raw, err := json.Marshal(dto)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, key := range []string{`"assigned_worker":"w1"`, `"attempt_count":2`, `"percent":37.5`, `"parameters":{}`} {
		if !strings.Contains(string(raw), key) {
			t.Fatalf("expected %s in %s", key, raw)
		}
	}
	if parsed, ok := ParseTime(dto.CreatedAt); !ok || !parsed.Equal(created) {
		t.Fatalf("ParseTime round trip failed: %v %v", parsed, ok)
	}
}

func TestFromWorkerOmitsEmptyMetrics(t *testing.T) {
	dto := FromWorker(&registry.Worker{ID: "w1", State: registry.StateIdle})
	if dto.Metrics != nil {
		t.Fatalf("expected nil metrics, got %+v", dto.Metrics)
	}
	dto = FromWorker(&registry.Worker{ID: "w1", State: registry.StateBusy, Metrics: registry.Metrics{CPUPercent: 12}})
	if dto.Metrics == nil || dto.Metrics.CPUPercent != 12 {
		t.Fatalf("metrics not converted: %+v", dto.Metrics)
	}
	if (*WorkerMetrics)(nil).ToMetrics() != nil {
		t.Fatal("nil wire metrics must stay nil")
	}
}

func TestFromStatsStringKeys(t *testing.T) {
	resp := FromStats(scheduler.Stats{
		Jobs:    queue.Stats{queue.StatusPending: 2},
		Workers: map[registry.State]int{registry.StateIdle: 1},
		Paused:  true,
	})
	if resp.Jobs["pending"] != 2 || resp.Workers["idle"] != 1 || !resp.Paused {
		t.Fatalf("unexpected status %+v", resp)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		code   string
		status int
	}{
		{errors.Wrap(queue.ErrInvalidSpec, "source is required"), CodeInvalidSpec, 400},
		{errors.Wrap(queue.ErrUnknownJob, "job x"), CodeUnknownJob, 404},
		{errors.Wrap(registry.ErrUnknownWorker, "worker y"), CodeUnknownWorker, 404},
		{errors.Wrap(queue.ErrIllegalTransition, "a -> b"), CodeIllegalTransition, 409},
		{errors.Wrap(scheduler.ErrStaleReport, "late"), CodeStaleReport, 409},
		{errors.Mark(errors.New("disk full"), scheduler.ErrStorage), CodeStorage, 500},
		{errors.New("boom"), CodeInternal, 500},
	}
	for _, tc := range cases {
		code, status := Classify(tc.err)
		if code != tc.code || status != tc.status {
			t.Fatalf("Classify(%v) = %s %d, want %s %d", tc.err, code, status, tc.code, tc.status)
		}
	}

	body, _ := NewErrorResponse(errors.WithHint(errors.Wrap(queue.ErrInvalidSpec, "x"), "pass a source"))
	if body.Hint != "pass a source" {
		t.Fatalf("hint = %q", body.Hint)
	}
}
