package master

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"ffarm/internal/api"
	"ffarm/internal/config"
	"ffarm/internal/hotfolder"
	"ffarm/internal/logging"
	"ffarm/internal/notifications"
	"ffarm/internal/queue"
	"ffarm/internal/scheduler"
)

// Master owns the scheduler, its journal, the sweep timer, the HTTP API, and
// the optional hot folder. Only one master may run per state directory.
type Master struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *queue.Store
	sched  *scheduler.Scheduler
	api    *apiServer
	watch  *hotfolder.Watcher
	notify *notifier
	local  LocalWorkerFactory

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	fatalOnce sync.Once
	fatal     chan error
}

// Option customizes a Master.
type Option func(*masterOptions)

type masterOptions struct {
	clock  func() time.Time
	bind   string
	notify notifications.Service
	local  LocalWorkerFactory
}

// WithClock overrides the scheduler clock.
func WithClock(now func() time.Time) Option {
	return func(o *masterOptions) { o.clock = now }
}

// WithBind overrides the configured listen address.
func WithBind(bind string) Option {
	return func(o *masterOptions) { o.bind = bind }
}

// WithNotifications replaces the ntfy service built from config.
func WithNotifications(svc notifications.Service) Option {
	return func(o *masterOptions) { o.notify = svc }
}

// New constructs a master. store may be nil when the journal is disabled.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, opts ...Option) (*Master, error) {
	if cfg == nil {
		return nil, errors.New("master requires config")
	}
	var o masterOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.bind == "" {
		o.bind = cfg.BindAddress()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if o.notify == nil {
		o.notify = notifications.NewService(cfg)
	}

	m := &Master{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
		fatal:    make(chan error, 1),
		notify:   newNotifier(o.notify, cfg.NotifyTimeout(), logger),
		local:    o.local,
	}

	schedOpts := scheduler.Options{
		RetryCeiling:     cfg.Scheduler.RetryCeiling,
		HeartbeatTimeout: cfg.HeartbeatTimeout(),
		StartPaused:      cfg.Scheduler.StartPaused,
		Logger:           logger,
		Clock:            o.clock,
		OnFatal:          m.raiseFatal,
		OnEvent:          m.notify.enqueue,
	}
	if store != nil {
		schedOpts.Journal = store
	}
	m.sched = scheduler.New(schedOpts)
	m.api = newAPIServer(o.bind, cfg.Master.APIToken, m.sched, logger, m.statusPayload)

	if cfg.Watch.Enabled {
		watcher, err := hotfolder.New(cfg, m.sched, logger)
		if err != nil {
			return nil, fmt.Errorf("create hot folder: %w", err)
		}
		m.watch = watcher
	}
	return m, nil
}

// Start acquires the master lock, replays the journal, and begins serving.
func (m *Master) Start(ctx context.Context) error {
	if m.running.Load() {
		return errors.New("master already running")
	}

	ok, err := m.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another ffarm master is already running with this state directory")
	}

	if err := m.restore(ctx); err != nil {
		_ = m.lock.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := m.api.start(runCtx); err != nil {
		cancel()
		_ = m.lock.Unlock()
		return err
	}
	m.cancel = cancel

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.sweepLoop(runCtx)
	}()
	go func() {
		defer m.wg.Done()
		m.notify.run(runCtx)
	}()

	if m.local != nil {
		if err := m.startLocalWorker(runCtx); err != nil {
			cancel()
			m.cancel = nil
			m.api.stop()
			m.wg.Wait()
			_ = m.lock.Unlock()
			return err
		}
	}

	if m.watch != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if err := m.watch.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				logging.WarnWithContext(m.logger, "hot folder stopped", "hotfolder_stopped",
					logging.Error(err),
					logging.String(logging.FieldImpact, "new files are no longer submitted automatically"),
				)
			}
		}()
	}

	m.running.Store(true)
	m.logger.Info("ffarm master started",
		logging.String("address", m.api.addr()),
		logging.String("lock", m.lockPath),
		logging.Int("retry_ceiling", m.cfg.Scheduler.RetryCeiling),
		logging.Duration("heartbeat_timeout", m.cfg.HeartbeatTimeout()),
		logging.Bool("journal", m.store != nil),
		logging.Bool("local_worker", m.local != nil),
	)
	return nil
}

// Stop halts background loops, shuts the API down, and releases the lock.
func (m *Master) Stop() {
	if !m.running.Load() {
		return
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.api.stop()
	m.wg.Wait()
	if err := m.lock.Unlock(); err != nil {
		m.logger.Warn("failed to release master lock", logging.Error(err))
	}
	m.running.Store(false)
	m.logger.Info("ffarm master stopped")
}

// Fatal delivers the first scheduler-side fault. The master must exit when
// it fires.
func (m *Master) Fatal() <-chan error {
	return m.fatal
}

// Scheduler exposes the underlying scheduler.
func (m *Master) Scheduler() *scheduler.Scheduler {
	return m.sched
}

// Addr returns the address the API is listening on.
func (m *Master) Addr() string {
	return m.api.addr()
}

func (m *Master) restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	jobs, err := m.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load journal: %w", err)
	}
	if err := m.sched.Restore(ctx, jobs); err != nil {
		return fmt.Errorf("restore journal: %w", err)
	}
	return nil
}

func (m *Master) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.sched.Cycle(ctx); err != nil {
				return
			}
		}
	}
}

func (m *Master) raiseFatal(err error) {
	m.fatalOnce.Do(func() {
		m.fatal <- err
	})
}

func (m *Master) statusPayload() api.StatusResponse {
	resp := api.FromStats(m.sched.Stats())
	resp.PID = os.Getpid()
	if m.store != nil {
		resp.Journal = m.store.Path()
	}
	return resp
}
