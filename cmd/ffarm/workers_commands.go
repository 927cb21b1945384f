package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ffarm/internal/api"
)

func newWorkersCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "Inspect and drain registered workers",
	}
	cmd.AddCommand(newWorkersListCommand(ctx))
	cmd.AddCommand(newWorkersDrainCommand(ctx, true))
	cmd.AddCommand(newWorkersDrainCommand(ctx, false))
	return cmd
}

func newWorkersListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				workers, err := client.ListWorkers(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, workers)
				}
				out := cmd.OutOrStdout()
				if len(workers) == 0 {
					fmt.Fprintln(out, "No workers registered")
					return nil
				}
				colorize := shouldColorize(out)
				rows := make([][]string, 0, len(workers))
				for _, w := range workers {
					cpu, memory := "-", "-"
					if w.Metrics != nil {
						cpu = fmt.Sprintf("%.0f%%", w.Metrics.CPUPercent)
						memory = fmt.Sprintf("%.0f%%", w.Metrics.MemoryPercent)
					}
					rows = append(rows, []string{
						w.ID,
						dashIfEmpty(w.Name),
						stateLabel(w.State, colorize),
						dashIfEmpty(w.CurrentJob),
						yesNo(w.Draining),
						cpu,
						memory,
						formatAgo(w.LastHeartbeat),
					})
				}
				headers := []string{"ID", "Name", "State", "Job", "Draining", "CPU", "Mem", "Last heartbeat"}
				aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft}
				fmt.Fprintln(out, renderTable(headers, rows, aligns))
				return nil
			})
		},
	}
}

func newWorkersDrainCommand(ctx *commandContext, drain bool) *cobra.Command {
	use, short, verb := "drain ID", "Stop assigning new jobs to a worker", "draining"
	if !drain {
		use, short, verb = "undrain ID", "Resume assigning jobs to a worker", "accepting jobs"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				worker, err := client.SetDraining(cmd.Context(), args[0], drain)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, worker)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Worker %s is %s\n", worker.ID, verb)
				if drain && worker.CurrentJob != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "Current job %s will finish first\n", worker.CurrentJob)
				}
				return nil
			})
		},
	}
}
