package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ffarm/internal/api"
	"ffarm/internal/preflight"
	"ffarm/internal/worker"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run an encode agent that pulls jobs from the master",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return worker.Run(cmd.Context(), cfg, worker.Options{
				LogLevel:  strings.TrimSpace(logLevel),
				MasterURL: ctx.masterURL(),
			})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level")

	cmd.AddCommand(newWorkerCheckCommand(ctx))
	return cmd
}

type checkOutput struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

func newWorkerCheckCommand(ctx *commandContext) *cobra.Command {
	var skipMaster bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run worker preflight checks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var client *api.Client
			if !skipMaster {
				if client, err = ctx.client(); err != nil {
					return err
				}
			}
			results := preflight.RunAll(cmd.Context(), cfg, client)

			if ctx.jsonOutput() {
				out := make([]checkOutput, 0, len(results))
				for _, r := range results {
					out = append(out, checkOutput(r))
				}
				if err := writeJSON(cmd, out); err != nil {
					return err
				}
			} else {
				colorize := shouldColorize(cmd.OutOrStdout())
				rows := make([][]string, 0, len(results))
				for _, r := range results {
					status := "ok"
					if !r.Passed {
						status = "failed"
					}
					rows = append(rows, []string{r.Name, checkLabel(status, colorize), r.Detail})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Check", "Status", "Detail"}, rows, nil))
			}

			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d preflight check(s) failed", len(failed))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipMaster, "skip-master", false, "Do not contact the master")
	return cmd
}

func checkLabel(status string, colorize bool) string {
	if !colorize {
		return status
	}
	if status == "ok" {
		return ansiGreen + status + ansiReset
	}
	return ansiRed + status + ansiReset
}
