package worker

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"ffarm/internal/api"
	"ffarm/internal/config"
	"ffarm/internal/logging"
	"ffarm/internal/preflight"
)

// Options configures worker process runtime behavior.
type Options struct {
	LogLevel  string
	MasterURL string
}

// Run starts a worker agent and blocks until a signal arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	ctx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if url := strings.TrimSpace(opts.MasterURL); url != "" {
		cfg.Worker.MasterURL = strings.TrimRight(url, "/")
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	logger, err := logging.NewFromConfig(cfg, "worker")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	client, err := api.NewClient(cfg.Worker.MasterURL, cfg.Master.APIToken, cfg.RequestTimeout())
	if err != nil {
		return err
	}

	for _, result := range preflight.RunAll(ctx, cfg, client) {
		if result.Passed {
			logger.Info("preflight check passed",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail),
			)
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "encodes on this worker may fail"),
			logging.String(logging.FieldErrorHint, "run 'ffarm worker check' for a summary"),
		)
	}

	agent, err := New(cfg, client, logger)
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}
	logger.Info("ffarm worker starting",
		logging.WorkerID(agent.ID()),
		logging.String("master", client.BaseURL()),
		logging.String("encoder", cfg.Worker.Encoder),
	)
	return agent.Run(ctx)
}
