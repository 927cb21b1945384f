package queue

import "github.com/cockroachdb/errors"

var (
	// ErrInvalidSpec is returned when a submission lacks a source or destination.
	ErrInvalidSpec = errors.New("invalid job spec")
	// ErrUnknownJob is returned for identifiers the queue has never issued.
	ErrUnknownJob = errors.New("unknown job")
	// ErrIllegalTransition is returned when a status change violates the job lifecycle.
	ErrIllegalTransition = errors.New("illegal status transition")
)

func unknownJob(id string) error {
	return errors.WithHint(
		errors.Wrapf(ErrUnknownJob, "job %q", id),
		"list jobs with 'ffarm jobs list' to find a valid id",
	)
}

func illegalTransition(id string, from, to Status) error {
	return errors.WithDetailf(
		errors.Wrapf(ErrIllegalTransition, "job %s: %s -> %s", id, from, to),
		"job %s is %s", id, from,
	)
}
