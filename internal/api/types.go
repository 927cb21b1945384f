package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job describes an encode job in a transport-friendly format.
type Job struct {
	ID             string            `json:"id"`
	Source         string            `json:"source"`
	Destination    string            `json:"destination"`
	Parameters     map[string]string `json:"parameters"`
	Status         string            `json:"status"`
	AssignedWorker string            `json:"assigned_worker,omitempty"`
	AttemptCount   int               `json:"attempt_count"`
	Result         string            `json:"result,omitempty"`
	Error          string            `json:"error,omitempty"`
	Progress       JobProgress       `json:"progress"`
	RetryOf        string            `json:"retry_of,omitempty"`
	LogTail        []string          `json:"log_tail,omitempty"`
	CreatedAt      string            `json:"created_at,omitempty"`
	UpdatedAt      string            `json:"updated_at,omitempty"`
}

// JobProgress carries the encoder's last reported position.
type JobProgress struct {
	Percent float64 `json:"percent"`
	Message string  `json:"message,omitempty"`
}

// Worker describes a registered encode agent.
type Worker struct {
	ID            string         `json:"id"`
	Name          string         `json:"name,omitempty"`
	Address       string         `json:"address,omitempty"`
	State         string         `json:"state"`
	CurrentJob    string         `json:"current_job,omitempty"`
	Draining      bool           `json:"draining"`
	Metrics       *WorkerMetrics `json:"metrics,omitempty"`
	RegisteredAt  string         `json:"registered_at,omitempty"`
	LastHeartbeat string         `json:"last_heartbeat,omitempty"`
}

// WorkerMetrics is host load sampled by the agent.
type WorkerMetrics struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	LoadAverage   float64 `json:"load_average"`
}

// SubmitRequest is the body of POST /jobs.
type SubmitRequest struct {
	Source      string            `json:"source"`
	Destination string            `json:"destination"`
	Parameters  map[string]string `json:"parameters,omitempty"`
}

// RegisterRequest is the body of POST /workers/register.
type RegisterRequest struct {
	WorkerID string `json:"worker_id"`
	Name     string `json:"name,omitempty"`
	Address  string `json:"address,omitempty"`
}

// HeartbeatRequest is the optional body of POST /workers/{id}/heartbeat.
type HeartbeatRequest struct {
	Metrics *WorkerMetrics `json:"metrics,omitempty"`
}

// HeartbeatResponse acknowledges a heartbeat and tells the agent whether it
// should stop taking work.
type HeartbeatResponse struct {
	WorkerID string `json:"worker_id"`
	State    string `json:"state"`
	Draining bool   `json:"draining"`
}

// ProgressRequest is the body of POST /jobs/{id}/progress.
type ProgressRequest struct {
	WorkerID string  `json:"worker_id"`
	Percent  float64 `json:"percent"`
	Message  string  `json:"message,omitempty"`
}

// ResultRequest is the body of POST /jobs/{id}/result.
type ResultRequest struct {
	WorkerID string   `json:"worker_id"`
	Status   string   `json:"status"`
	Result   string   `json:"result,omitempty"`
	Error    string   `json:"error,omitempty"`
	LogTail  []string `json:"log_tail,omitempty"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job Job `json:"job"`
}

// WorkerListResponse wraps a collection of workers.
type WorkerListResponse struct {
	Workers []Worker `json:"workers"`
}

// WorkerResponse wraps a single worker.
type WorkerResponse struct {
	Worker Worker `json:"worker"`
}

// StatusResponse summarizes the farm.
type StatusResponse struct {
	Paused  bool           `json:"paused"`
	Jobs    map[string]int `json:"jobs"`
	Workers map[string]int `json:"workers"`
	PID     int            `json:"pid,omitempty"`
	Journal string         `json:"journal,omitempty"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}
