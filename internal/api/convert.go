package api

import (
	"maps"
	"slices"
	"time"

	"ffarm/internal/queue"
	"ffarm/internal/registry"
	"ffarm/internal/scheduler"
)

// FromJob converts a queue record to its API representation.
func FromJob(job *queue.Job) Job {
	if job == nil {
		return Job{}
	}
	dto := Job{
		ID:             job.ID,
		Source:         job.Source,
		Destination:    job.Destination,
		Parameters:     maps.Clone(job.Parameters),
		Status:         string(job.Status),
		AssignedWorker: job.AssignedWorker,
		AttemptCount:   job.AttemptCount,
		Result:         job.Result,
		Error:          job.Error,
		Progress: JobProgress{
			Percent: job.ProgressPercent,
			Message: job.ProgressMessage,
		},
		RetryOf:   job.RetryOf,
		LogTail:   slices.Clone(job.LogTail),
		CreatedAt: formatTime(job.CreatedAt),
		UpdatedAt: formatTime(job.UpdatedAt),
	}
	if dto.Parameters == nil {
		dto.Parameters = map[string]string{}
	}
	return dto
}

// FromJobs converts a slice of queue records into API DTOs.
func FromJobs(jobs []*queue.Job) []Job {
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromJob(job))
	}
	return out
}

// FromWorker converts a registry record to its API representation.
func FromWorker(worker *registry.Worker) Worker {
	if worker == nil {
		return Worker{}
	}
	dto := Worker{
		ID:            worker.ID,
		Name:          worker.Name,
		Address:       worker.Address,
		State:         string(worker.State),
		CurrentJob:    worker.CurrentJob,
		Draining:      worker.Draining,
		RegisteredAt:  formatTime(worker.RegisteredAt),
		LastHeartbeat: formatTime(worker.LastHeartbeat),
	}
	if worker.Metrics != (registry.Metrics{}) {
		dto.Metrics = &WorkerMetrics{
			CPUPercent:    worker.Metrics.CPUPercent,
			MemoryPercent: worker.Metrics.MemoryPercent,
			LoadAverage:   worker.Metrics.LoadAverage,
		}
	}
	return dto
}

// FromWorkers converts registry records into API DTOs.
func FromWorkers(workers []*registry.Worker) []Worker {
	out := make([]Worker, 0, len(workers))
	for _, worker := range workers {
		out = append(out, FromWorker(worker))
	}
	return out
}

// FromStats flattens scheduler counters into string-keyed maps.
func FromStats(stats scheduler.Stats) StatusResponse {
	resp := StatusResponse{
		Paused:  stats.Paused,
		Jobs:    make(map[string]int, len(stats.Jobs)),
		Workers: make(map[string]int, len(stats.Workers)),
	}
	for status, n := range stats.Jobs {
		resp.Jobs[string(status)] = n
	}
	for state, n := range stats.Workers {
		resp.Workers[string(state)] = n
	}
	return resp
}

// Spec converts a submission body into a queue spec.
func (r SubmitRequest) Spec() queue.Spec {
	return queue.Spec{Source: r.Source, Destination: r.Destination, Parameters: maps.Clone(r.Parameters)}
}

// ToMetrics converts wire metrics to the registry form. Nil stays nil so the
// registry keeps the previous sample.
func (m *WorkerMetrics) ToMetrics() *registry.Metrics {
	if m == nil {
		return nil
	}
	return &registry.Metrics{
		CPUPercent:    m.CPUPercent,
		MemoryPercent: m.MemoryPercent,
		LoadAverage:   m.LoadAverage,
	}
}

// ParseTime reads a timestamp produced by this package.
func ParseTime(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(dateTimeFormat, value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
