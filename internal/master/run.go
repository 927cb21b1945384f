package master

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/cockroachdb/errors"

	"ffarm/internal/config"
	"ffarm/internal/logging"
	"ffarm/internal/queue"
	"ffarm/internal/scheduler"
)

// Options configures master process runtime behavior.
type Options struct {
	LogLevel string
	// LocalWorker builds the in-process worker used when
	// master.local_worker is set.
	LocalWorker LocalWorkerFactory
}

// Run starts the master and blocks until a signal arrives or the scheduler
// reports a fatal fault.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	logger, err := logging.NewFromConfig(cfg, "master")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	var store *queue.Store
	if cfg.Storage.Journal {
		store, err = queue.Open(cfg)
		if err != nil {
			logging.ErrorWithContext(logger, "open job journal", "journal_open_failed",
				logging.Error(err),
				logging.String("path", cfg.Storage.JournalPath),
				logging.String(logging.FieldErrorHint, "check the state directory permissions or set storage.journal = false"),
			)
			return err
		}
		defer store.Close()
	}

	var masterOpts []Option
	if cfg.Master.LocalWorker {
		if opts.LocalWorker == nil {
			return errors.New("master.local_worker is set but no local worker is available")
		}
		masterOpts = append(masterOpts, WithLocalWorker(opts.LocalWorker))
	}

	m, err := New(cfg, store, logger, masterOpts...)
	if err != nil {
		return fmt.Errorf("create master: %w", err)
	}
	if err := m.Start(signalCtx); err != nil {
		return err
	}
	defer m.Stop()

	// Only the lock holder owns the PID file.
	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	select {
	case <-signalCtx.Done():
		logger.Info("ffarm master shutting down")
		return nil
	case err := <-m.Fatal():
		logging.ErrorWithContext(logger, "ffarm master stopping after scheduler fault", "master_fatal",
			logging.Error(err),
			logging.Bool("journal_fault", errors.Is(err, scheduler.ErrStorage)),
		)
		return fmt.Errorf("scheduler halted: %w", err)
	}
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
