package worker

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"ffarm/internal/api"
	"ffarm/internal/config"
	"ffarm/internal/encoder"
	"ffarm/internal/logging"
	"ffarm/internal/queue"
	"ffarm/internal/registry"
	"ffarm/internal/scheduler"
)

const (
	maxRegisterBackoff = 30 * time.Second
	progressBucket     = 5
)

// Agent is a worker process's connection to the master.
type Agent struct {
	client  *api.Client
	encoder encoder.Encoder
	logger  *slog.Logger

	id      string
	name    string
	address string

	heartbeatInterval time.Duration
	pollInterval      time.Duration
	requestTimeout    time.Duration
	sample            func(context.Context) *api.WorkerMetrics

	draining atomic.Bool
	regMu    sync.Mutex
}

// Option customizes an Agent.
type Option func(*Agent)

// WithEncoder replaces the configured encoder backend.
func WithEncoder(enc encoder.Encoder) Option {
	return func(a *Agent) { a.encoder = enc }
}

// WithIntervals overrides the heartbeat and poll cadence.
func WithIntervals(heartbeat, poll time.Duration) Option {
	return func(a *Agent) {
		if heartbeat > 0 {
			a.heartbeatInterval = heartbeat
		}
		if poll > 0 {
			a.pollInterval = poll
		}
	}
}

// WithMetrics replaces the heartbeat metrics probe.
func WithMetrics(sample func(context.Context) *api.WorkerMetrics) Option {
	return func(a *Agent) { a.sample = sample }
}

// New builds an agent from the [worker] config section. A worker without a
// configured id gets a random one for the life of the process.
func New(cfg *config.Config, client *api.Client, logger *slog.Logger, opts ...Option) (*Agent, error) {
	if cfg == nil || client == nil {
		return nil, errors.New("worker agent requires config and client")
	}
	id := cfg.Worker.ID
	if id == "" {
		id = uuid.NewString()
	}
	name := cfg.Worker.Name
	if name == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "unknown"
		}
		name = "worker-" + host
	}

	a := &Agent{
		client:            client,
		id:                id,
		name:              name,
		address:           cfg.Worker.Address,
		heartbeatInterval: cfg.HeartbeatInterval(),
		pollInterval:      cfg.PollInterval(),
		requestTimeout:    cfg.RequestTimeout(),
		sample:            SampleMetrics,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = logging.NewComponentLogger(logger, "worker").With(logging.Args(logging.WorkerID(id))...)
	if a.encoder == nil {
		enc, err := encoder.New(cfg, logger)
		if err != nil {
			return nil, err
		}
		a.encoder = enc
	}
	return a, nil
}

// LocalID is the identity of a worker hosted by the master when
// worker.id is unset.
const LocalID = "local"

// NewLocal builds an agent for the master process itself. It reuses the
// [worker] settings but talks to masterURL.
func NewLocal(cfg *config.Config, masterURL string, logger *slog.Logger, opts ...Option) (*Agent, error) {
	if cfg == nil {
		return nil, errors.New("local worker requires config")
	}
	local := *cfg
	local.Worker.MasterURL = masterURL
	if local.Worker.ID == "" {
		local.Worker.ID = LocalID
	}
	if local.Worker.Name == "" {
		local.Worker.Name = LocalID
	}
	client, err := api.NewClient(masterURL, local.Master.APIToken, local.RequestTimeout())
	if err != nil {
		return nil, err
	}
	return New(&local, client, logger, opts...)
}

// ID returns the identity the agent registers under.
func (a *Agent) ID() string {
	return a.id
}

// Draining reports whether the master has asked this worker to stop taking
// new jobs.
func (a *Agent) Draining() bool {
	return a.draining.Load()
}

// Run registers and then serves assignments until ctx is cancelled. A job in
// progress at cancellation is reported as failed.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.register(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.heartbeatLoop(ctx)
	}()

	a.pollLoop(ctx)
	wg.Wait()
	a.logger.Info("worker stopped")
	return nil
}

func (a *Agent) register(ctx context.Context) error {
	a.regMu.Lock()
	defer a.regMu.Unlock()

	backoff := a.pollInterval
	for {
		worker, err := a.client.Register(ctx, api.RegisterRequest{
			WorkerID: a.id,
			Name:     a.name,
			Address:  a.address,
		})
		if err == nil {
			a.draining.Store(worker.Draining)
			a.logger.Info("registered with master",
				logging.String("master", a.client.BaseURL()),
				logging.String("name", a.name),
				logging.String("state", worker.State),
				logging.Bool("draining", worker.Draining),
			)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, registry.ErrInvalidWorker) {
			return errors.WithHint(err, "set worker.id to a non-empty identifier")
		}
		logging.WarnWithContext(a.logger, "registration failed; retrying", "worker_register_retry",
			logging.String("master", a.client.BaseURL()),
			logging.Duration("retry_in", backoff),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that the master is running and worker.master_url is correct"),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxRegisterBackoff)
	}
}

func (a *Agent) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(a.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.heartbeat(ctx)
		}
	}
}

func (a *Agent) heartbeat(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, a.requestTimeout)
	defer cancel()

	var metrics *api.WorkerMetrics
	if a.sample != nil {
		metrics = a.sample(reqCtx)
	}
	resp, err := a.client.Heartbeat(reqCtx, a.id, metrics)
	switch {
	case errors.Is(err, registry.ErrUnknownWorker):
		a.logger.Info("master does not know this worker; registering again")
		_ = a.register(ctx)
		return
	case err != nil:
		if ctx.Err() == nil {
			logging.WarnWithContext(a.logger, "heartbeat failed", "worker_heartbeat_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "the master sweeps this worker if heartbeats keep failing"),
			)
		}
		return
	}
	if was := a.draining.Swap(resp.Draining); was != resp.Draining {
		a.logger.Info("drain state changed", logging.Bool("draining", resp.Draining))
	}
}

func (a *Agent) pollLoop(ctx context.Context) {
	limiter := rate.NewLimiter(rate.Every(a.pollInterval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		if a.draining.Load() {
			continue
		}
		reqCtx, cancel := context.WithTimeout(ctx, a.requestTimeout)
		job, err := a.client.Assignment(reqCtx, a.id)
		cancel()
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, registry.ErrUnknownWorker):
			a.logger.Info("master does not know this worker; registering again")
			if err := a.register(ctx); err != nil {
				return
			}
		case err != nil:
			logging.WarnWithContext(a.logger, "assignment poll failed", "worker_poll_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check master availability"),
			)
		case job != nil:
			a.execute(ctx, job)
		}
	}
}

func (a *Agent) execute(ctx context.Context, job *api.Job) {
	logger := a.logger.With(logging.Args(logging.JobID(job.ID))...)
	logger.Info("starting job",
		logging.String("source", job.Source),
		logging.String("destination", job.Destination),
		logging.Int("attempt", job.AttemptCount),
	)

	tail := encoder.NewLogTail(encoder.DefaultTailLines)
	sampler := logging.NewProgressSampler(progressBucket)
	started := time.Now()
	output, encErr := a.encoder.Encode(ctx, encoder.Task{
		JobID:       job.ID,
		Source:      job.Source,
		Destination: job.Destination,
		Parameters:  job.Parameters,
		Tail:        tail,
	}, func(p encoder.Progress) {
		if !sampler.ShouldEmit(p.Percent, p.Stage) {
			return
		}
		logger.Info("encode progress",
			logging.Float64("progress_percent", p.Percent),
			logging.String("progress_stage", p.Stage),
		)
		a.sendProgress(ctx, job.ID, p, logger)
	})

	req := api.ResultRequest{
		WorkerID: a.id,
		Status:   string(queue.StatusSucceeded),
		Result:   output,
		LogTail:  tail.Lines(),
	}
	if encErr != nil {
		req.Status = string(queue.StatusFailed)
		req.Result = ""
		req.Error = encErr.Error()
		logging.WarnWithContext(logger, "encode failed", "encode_failed",
			logging.Error(encErr),
			logging.Duration("elapsed", time.Since(started)),
			logging.String(logging.FieldImpact, "the master decides whether the job runs again"),
		)
	} else {
		logger.Info("encode finished",
			logging.String("output", output),
			logging.Duration("elapsed", time.Since(started)),
		)
	}

	// The outcome is delivered even when the agent is shutting down.
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.requestTimeout)
	defer cancel()
	result, err := a.client.ReportResult(reportCtx, job.ID, req)
	switch {
	case err == nil:
		logger.Info("result accepted", logging.String("job_status", result.Status))
	case errors.Is(err, scheduler.ErrStaleReport):
		logger.Info("master discarded result; job was reassigned")
	default:
		logging.WarnWithContext(logger, "result report failed", "worker_report_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "the master hands the job back on the next poll or reclaims it after the heartbeat timeout"),
		)
	}
}

func (a *Agent) sendProgress(ctx context.Context, jobID string, p encoder.Progress, logger *slog.Logger) {
	reqCtx, cancel := context.WithTimeout(ctx, a.requestTimeout)
	defer cancel()
	err := a.client.ReportProgress(reqCtx, jobID, api.ProgressRequest{
		WorkerID: a.id,
		Percent:  p.Percent,
		Message:  p.Message,
	})
	if err != nil && ctx.Err() == nil {
		logger.Debug("progress update rejected", logging.Error(err))
	}
}
