package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"ffarm/internal/api"
)

var jobStatusOrder = []string{"pending", "assigned", "running", "succeeded", "failed"}

var workerStateOrder = []string{"idle", "busy", "unreachable"}

func newQueueCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Pause, resume, and summarize the job queue",
	}
	cmd.AddCommand(newQueuePauseCommand(ctx, true))
	cmd.AddCommand(newQueuePauseCommand(ctx, false))
	cmd.AddCommand(newQueueStatusCommand(ctx))
	return cmd
}

func newQueuePauseCommand(ctx *commandContext, pause bool) *cobra.Command {
	use, short := "pause", "Stop handing out pending jobs"
	if !pause {
		use, short = "resume", "Resume handing out pending jobs"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				status, err := client.SetPaused(cmd.Context(), pause)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, status)
				}
				if status.Paused {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue paused; running jobs continue")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue resumed")
				}
				return nil
			})
		},
	}
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show job and worker counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				status, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, status)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Master:   %s\n", client.BaseURL())
				if status.PID > 0 {
					fmt.Fprintf(out, "PID:      %d\n", status.PID)
				}
				fmt.Fprintf(out, "Paused:   %s\n", yesNo(status.Paused))
				fmt.Fprintf(out, "Journal:  %s\n", dashIfEmpty(status.Journal))
				fmt.Fprintln(out)
				colorize := shouldColorize(out)
				writeCounts(out, "Jobs", status.Jobs, jobStatusOrder, colorize)
				fmt.Fprintln(out)
				writeCounts(out, "Workers", status.Workers, workerStateOrder, colorize)
				return nil
			})
		},
	}
}

// writeCounts renders known states in order followed by any others the
// master reports.
func writeCounts(out io.Writer, title string, counts map[string]int, order []string, colorize bool) {
	seen := make(map[string]bool, len(order))
	rows := make([][]string, 0, len(counts)+len(order))
	for _, state := range order {
		seen[state] = true
		rows = append(rows, []string{stateLabel(state, colorize), fmt.Sprintf("%d", counts[state])})
	}
	extra := make([]string, 0)
	for state := range counts {
		if !seen[state] {
			extra = append(extra, state)
		}
	}
	sort.Strings(extra)
	for _, state := range extra {
		rows = append(rows, []string{stateLabel(state, colorize), fmt.Sprintf("%d", counts[state])})
	}
	fmt.Fprintln(out, renderTable([]string{title, "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
}
