package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"ffarm/internal/config"
	"ffarm/internal/master"
	"ffarm/internal/worker"
)

func newMasterCommand(ctx *commandContext) *cobra.Command {
	var host string
	var port int
	var logLevel string
	var localWorker bool

	cmd := &cobra.Command{
		Use:   "master",
		Short: "Run the coordinating master",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Master.Host = strings.TrimSpace(host)
			}
			if cmd.Flags().Changed("port") {
				if port <= 0 || port > 65535 {
					return fmt.Errorf("--port must be between 1 and 65535, got %d", port)
				}
				cfg.Master.Port = port
			}
			if localWorker {
				cfg.Master.LocalWorker = true
			}
			return master.Run(cmd.Context(), cfg, master.Options{
				LogLevel:    strings.TrimSpace(logLevel),
				LocalWorker: localWorkerFactory(cfg),
			})
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Interface to listen on (default from config)")
	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (default from config)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level")
	cmd.Flags().BoolVar(&localWorker, "local-worker", false, "Also run an encode worker inside the master process")
	return cmd
}

func localWorkerFactory(cfg *config.Config) master.LocalWorkerFactory {
	return func(masterURL string, logger *slog.Logger) (master.LocalWorker, error) {
		return worker.NewLocal(cfg, masterURL, logger)
	}
}
