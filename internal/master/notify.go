package master

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"ffarm/internal/logging"
	"ffarm/internal/notifications"
	"ffarm/internal/scheduler"
)

const notifyBacklog = 64

// notifier moves scheduler events off the scheduler lock and publishes them.
type notifier struct {
	svc     notifications.Service
	events  chan scheduler.Event
	timeout time.Duration
	logger  *slog.Logger
}

func newNotifier(svc notifications.Service, timeout time.Duration, logger *slog.Logger) *notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &notifier{
		svc:     svc,
		events:  make(chan scheduler.Event, notifyBacklog),
		timeout: timeout,
		logger:  logging.NewComponentLogger(logger, "notify"),
	}
}

// enqueue is the scheduler's OnEvent hook and never blocks.
func (n *notifier) enqueue(ev scheduler.Event) {
	select {
	case n.events <- ev:
	default:
		n.logger.Warn("notification backlog full; dropping event",
			logging.String("event", string(ev.Kind)),
			logging.JobID(ev.Job.ID),
		)
	}
}

func (n *notifier) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-n.events:
			n.publish(ctx, ev)
		}
	}
}

func (n *notifier) publish(ctx context.Context, ev scheduler.Event) {
	event, payload := translateEvent(ev)
	reqCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if err := n.svc.Publish(reqCtx, event, payload); err != nil && ctx.Err() == nil {
		logging.WarnWithContext(n.logger, "notification failed", "notify_failed",
			logging.String("event", string(event)),
			logging.JobID(ev.Job.ID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "alert not delivered; farm state is unaffected"),
		)
	}
}

func translateEvent(ev scheduler.Event) (notifications.Event, notifications.Payload) {
	payload := notifications.Payload{
		"job":      ev.Job.ID,
		"source":   ev.Job.Source,
		"worker":   ev.WorkerID,
		"status":   string(ev.Job.Status),
		"attempts": strconv.Itoa(ev.Job.AttemptCount),
		"result":   ev.Job.Result,
		"error":    ev.Job.Error,
	}
	switch ev.Kind {
	case scheduler.EventJobSucceeded:
		return notifications.EventJobSucceeded, payload
	case scheduler.EventJobFailed:
		return notifications.EventJobFailed, payload
	default:
		return notifications.EventWorkerLost, payload
	}
}
