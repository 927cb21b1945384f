package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrMasterUnavailable is returned when the master cannot be reached.
var ErrMasterUnavailable = errors.New("master unavailable")

// Client talks to the master's HTTP API. It is used by worker agents and by
// the CLI.
type Client struct {
	base  *url.URL
	http  *http.Client
	token string
}

// NewClient builds a client for masterURL. A bare host:port gets an http
// scheme. timeout bounds each request; zero means no limit.
func NewClient(masterURL, token string, timeout time.Duration) (*Client, error) {
	masterURL = strings.TrimSpace(masterURL)
	if masterURL == "" {
		return nil, fmt.Errorf("master url is required")
	}
	if !strings.Contains(masterURL, "://") {
		masterURL = "http://" + masterURL
	}
	base, err := url.Parse(masterURL)
	if err != nil {
		return nil, fmt.Errorf("parse master url: %w", err)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("master url %q has no host", masterURL)
	}
	base.Path = strings.TrimRight(base.Path, "/")
	base.RawQuery = ""
	base.Fragment = ""

	return &Client{
		base:  base,
		http:  &http.Client{Timeout: timeout},
		token: strings.TrimSpace(token),
	}, nil
}

// BaseURL returns the normalized master URL.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// SubmitJob enqueues a job.
func (c *Client) SubmitJob(ctx context.Context, req SubmitRequest) (Job, error) {
	var resp JobResponse
	if err := c.do(ctx, http.MethodPost, "/jobs", nil, req, &resp); err != nil {
		return Job{}, err
	}
	return resp.Job, nil
}

// ListJobs returns jobs, filtered by status when status is non-empty.
func (c *Client) ListJobs(ctx context.Context, status string) ([]Job, error) {
	var query url.Values
	if status = strings.TrimSpace(status); status != "" {
		query = url.Values{"status": {status}}
	}
	var resp JobListResponse
	if err := c.do(ctx, http.MethodGet, "/jobs", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// GetJob returns one job.
func (c *Client) GetJob(ctx context.Context, id string) (Job, error) {
	var resp JobResponse
	if err := c.do(ctx, http.MethodGet, "/jobs/"+id, nil, nil, &resp); err != nil {
		return Job{}, err
	}
	return resp.Job, nil
}

// RetryJob resubmits a failed job.
func (c *Client) RetryJob(ctx context.Context, id string) (Job, error) {
	var resp JobResponse
	if err := c.do(ctx, http.MethodPost, "/jobs/"+id+"/retry", nil, nil, &resp); err != nil {
		return Job{}, err
	}
	return resp.Job, nil
}

// Register announces a worker.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (Worker, error) {
	var resp WorkerResponse
	if err := c.do(ctx, http.MethodPost, "/workers/register", nil, req, &resp); err != nil {
		return Worker{}, err
	}
	return resp.Worker, nil
}

// Heartbeat refreshes a worker's liveness.
func (c *Client) Heartbeat(ctx context.Context, workerID string, metrics *WorkerMetrics) (HeartbeatResponse, error) {
	var resp HeartbeatResponse
	err := c.do(ctx, http.MethodPost, workerPath(workerID, "heartbeat"), nil, HeartbeatRequest{Metrics: metrics}, &resp)
	return resp, err
}

// Assignment polls for the worker's job. It returns nil when nothing is
// available.
func (c *Client) Assignment(ctx context.Context, workerID string) (*Job, error) {
	var resp JobResponse
	found := false
	err := c.doStatus(ctx, http.MethodGet, workerPath(workerID, "assignment"), nil, nil, &resp, &found)
	if err != nil || !found {
		return nil, err
	}
	return &resp.Job, nil
}

// ReportProgress forwards encoder progress.
func (c *Client) ReportProgress(ctx context.Context, jobID string, req ProgressRequest) error {
	return c.do(ctx, http.MethodPost, "/jobs/"+jobID+"/progress", nil, req, nil)
}

// ReportResult delivers a job's outcome.
func (c *Client) ReportResult(ctx context.Context, jobID string, req ResultRequest) (Job, error) {
	var resp JobResponse
	if err := c.do(ctx, http.MethodPost, "/jobs/"+jobID+"/result", nil, req, &resp); err != nil {
		return Job{}, err
	}
	return resp.Job, nil
}

// ListWorkers returns every registered worker.
func (c *Client) ListWorkers(ctx context.Context) ([]Worker, error) {
	var resp WorkerListResponse
	if err := c.do(ctx, http.MethodGet, "/workers", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Workers, nil
}

// SetDraining drains or undrains a worker.
func (c *Client) SetDraining(ctx context.Context, workerID string, draining bool) (Worker, error) {
	action := "undrain"
	if draining {
		action = "drain"
	}
	var resp WorkerResponse
	if err := c.do(ctx, http.MethodPost, workerPath(workerID, action), nil, nil, &resp); err != nil {
		return Worker{}, err
	}
	return resp.Worker, nil
}

// SetPaused pauses or resumes assignment.
func (c *Client) SetPaused(ctx context.Context, paused bool) (StatusResponse, error) {
	path := "/queue/resume"
	if paused {
		path = "/queue/pause"
	}
	var resp StatusResponse
	err := c.do(ctx, http.MethodPost, path, nil, nil, &resp)
	return resp, err
}

// Status returns farm counters.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var resp StatusResponse
	err := c.do(ctx, http.MethodGet, "/status", nil, nil, &resp)
	return resp, err
}

// Health checks that the master is serving.
func (c *Client) Health(ctx context.Context) error {
	var resp HealthResponse
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil, &resp)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	return c.doStatus(ctx, method, path, query, body, out, nil)
}

func (c *Client) doStatus(ctx context.Context, method, path string, query url.Values, body, out any, found *bool) error {
	endpoint := *c.base
	endpoint.Path = c.base.Path + path
	endpoint.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, unavailable(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if found != nil {
		*found = true
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &Error{StatusCode: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload ErrorResponse
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		apiErr.Code = payload.Error
		apiErr.Message = payload.Message
		apiErr.Hint = payload.Hint
		return apiErr
	}
	apiErr.Code = strings.ToLower(strings.ReplaceAll(http.StatusText(resp.StatusCode), " ", "_"))
	apiErr.Message = strings.TrimSpace(string(raw))
	return apiErr
}

func unavailable(err error) error {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%w: %w", ErrMasterUnavailable, err)
	}
	return err
}

// IsUnavailable reports whether err means the master could not be reached.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	return errors.Is(err, ErrMasterUnavailable) || errors.As(err, &opErr)
}

func workerPath(workerID, action string) string {
	return "/workers/" + workerID + "/" + action
}
