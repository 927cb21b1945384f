package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"ffarm/internal/config"
)

const userAgent = "ffarm/0.1"

// Event identifies a farm occurrence worth an alert.
type Event string

const (
	EventJobSucceeded Event = "job_succeeded"
	EventJobFailed    Event = "job_failed"
	EventWorkerLost   Event = "worker_lost"
	EventTest         Event = "test"
)

// Payload carries the event details. Missing keys render as empty text.
type Payload map[string]string

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService returns an ntfy publisher, or a no-op when no topic is set.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := cfg.NotifyTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint:     topic,
		client:       &http.Client{Timeout: timeout},
		jobSucceeded: cfg.Notifications.JobSucceeded,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint     string
	client       *http.Client
	jobSucceeded bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := n.render(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) render(event Event, payload Payload) (message, bool) {
	name := filepath.Base(payload["source"])
	switch event {
	case EventJobSucceeded:
		if !n.jobSucceeded {
			return message{}, false
		}
		return message{
			title: "ffarm - Encoded",
			body:  fmt.Sprintf("Encoded %s\nOutput: %s\nWorker: %s", name, payload["result"], payload["worker"]),
			tags:  []string{"ffarm", "encode", "completed"},
		}, true
	case EventJobFailed:
		return message{
			title:    "ffarm - Job Failed",
			body:     fmt.Sprintf("Job %s (%s) failed after %s attempt(s): %s", payload["job"], name, payload["attempts"], payload["error"]),
			tags:     []string{"ffarm", "encode", "failed"},
			priority: "high",
		}, true
	case EventWorkerLost:
		body := fmt.Sprintf("Worker %s stopped sending heartbeats", payload["worker"])
		if job := payload["job"]; job != "" {
			body += fmt.Sprintf("\nJob %s is %s", job, payload["status"])
		}
		return message{
			title:    "ffarm - Worker Lost",
			body:     body,
			tags:     []string{"ffarm", "worker", "lost"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "ffarm - Test",
			body:     "Notification system test",
			tags:     []string{"ffarm", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return errors.Wrap(err, "build ntfy request")
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "send ntfy notification")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return errors.WithHint(
			errors.Newf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			"check notifications.ntfy_topic",
		)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
