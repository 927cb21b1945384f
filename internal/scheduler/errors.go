package scheduler

import "github.com/cockroachdb/errors"

var (
	// ErrExceededRetries is recorded on jobs that failed at the retry ceiling.
	ErrExceededRetries = errors.New("exceeded retries")
	// ErrStaleReport is returned for reports from a worker that no longer
	// holds the job.
	ErrStaleReport = errors.New("stale report")
	// ErrStorage marks a journal write failure. It is fatal to the master.
	ErrStorage = errors.New("job journal unavailable")
	// ErrInvariant marks a broken job/worker pairing. It is fatal to the master.
	ErrInvariant = errors.New("assignment invariant violated")
)

// IsFatal reports whether err means the scheduler's state can no longer be
// trusted.
func IsFatal(err error) bool {
	return errors.Is(err, ErrStorage) || errors.Is(err, ErrInvariant)
}

func staleReport(jobID, workerID, holder string) error {
	if holder == "" {
		holder = "nobody"
	}
	return errors.WithDetailf(
		errors.Wrapf(ErrStaleReport, "job %s is not assigned to worker %s", jobID, workerID),
		"job %s is held by %s", jobID, holder,
	)
}

func invariant(err error, format string, args ...any) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrInvariant)
}
