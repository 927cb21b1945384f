package queue

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// Status represents the lifecycle of an encode job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAssigned  Status = "assigned"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusAssigned,
	StatusRunning,
	StatusSucceeded,
	StatusFailed,
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	return slices.Clone(allStatuses)
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if slices.Contains(allStatuses, normalized) {
		return normalized, true
	}
	return "", false
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// IsInFlight reports whether a worker currently holds the job.
func (s Status) IsInFlight() bool {
	return s == StatusAssigned || s == StatusRunning
}

// Spec is the caller-supplied description of an encode.
type Spec struct {
	Source      string
	Destination string
	Parameters  map[string]string
}

// Job is one encode request tracked by the master.
type Job struct {
	ID              string
	Seq             int64
	Source          string
	Destination     string
	Parameters      map[string]string
	Status          Status
	AssignedWorker  string
	AttemptCount    int
	Result          string
	Error           string
	ProgressPercent float64
	ProgressMessage string
	RetryOf         string
	LogTail         []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Clone returns a deep copy so callers outside the scheduler lock never alias
// queue state.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.Parameters = maps.Clone(j.Parameters)
	cp.LogTail = slices.Clone(j.LogTail)
	return &cp
}

// Stats counts jobs per status.
type Stats map[Status]int

// Total sums every status bucket.
func (s Stats) Total() int {
	total := 0
	for _, n := range s {
		total += n
	}
	return total
}
