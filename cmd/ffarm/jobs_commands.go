package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"ffarm/internal/api"
	"ffarm/internal/encoder"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Submit and inspect encode jobs",
	}
	cmd.AddCommand(newJobsSubmitCommand(ctx))
	cmd.AddCommand(newJobsListCommand(ctx))
	cmd.AddCommand(newJobsShowCommand(ctx))
	cmd.AddCommand(newJobsRetryCommand(ctx))
	return cmd
}

func newJobsSubmitCommand(ctx *commandContext) *cobra.Command {
	var params []string
	var ffmpegArgs string

	cmd := &cobra.Command{
		Use:   "submit SOURCE DESTINATION",
		Short: "Queue an encode job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			parameters, err := parseParams(params)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("ffmpeg-args") {
				if parameters == nil {
					parameters = map[string]string{}
				}
				parameters[encoder.ArgsParameter] = ffmpegArgs
			}
			return ctx.withClient(func(client *api.Client) error {
				job, err := client.SubmitJob(cmd.Context(), api.SubmitRequest{
					Source:      args[0],
					Destination: args[1],
					Parameters:  parameters,
				})
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, job)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Submitted job %s (%s)\n", job.ID, job.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Job parameter as key=value (repeatable)")
	cmd.Flags().StringVar(&ffmpegArgs, "ffmpeg-args", "", "Extra ffmpeg arguments, shell-quoted")
	return cmd
}

func parseParams(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(values))
	for _, raw := range values {
		key, value, ok := strings.Cut(raw, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q: expected key=value", raw)
		}
		out[key] = value
	}
	return out, nil
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs in submission order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				jobs, err := client.ListJobs(cmd.Context(), strings.TrimSpace(status))
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, jobs)
				}
				out := cmd.OutOrStdout()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "No jobs")
					return nil
				}
				colorize := shouldColorize(out)
				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, []string{
						job.ID,
						stateLabel(job.Status, colorize),
						dashIfEmpty(job.AssignedWorker),
						fmt.Sprintf("%d", job.AttemptCount),
						formatPercent(job.Progress, job.Status),
						job.Source,
						formatAgo(job.UpdatedAt),
					})
				}
				headers := []string{"ID", "Status", "Worker", "Attempts", "Progress", "Source", "Updated"}
				aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft}
				fmt.Fprintln(out, renderTable(headers, rows, aligns))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&status, "status", "s", "", "Only list jobs in this status")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show one job with its log tail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				job, err := client.GetJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, job)
				}
				renderJob(cmd, job)
				return nil
			})
		},
	}
}

func renderJob(cmd *cobra.Command, job api.Job) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	fmt.Fprintf(out, "Job:          %s\n", job.ID)
	fmt.Fprintf(out, "Status:       %s\n", stateLabel(job.Status, colorize))
	fmt.Fprintf(out, "Source:       %s\n", job.Source)
	fmt.Fprintf(out, "Destination:  %s\n", job.Destination)
	fmt.Fprintf(out, "Worker:       %s\n", dashIfEmpty(job.AssignedWorker))
	fmt.Fprintf(out, "Attempts:     %d\n", job.AttemptCount)
	fmt.Fprintf(out, "Progress:     %s\n", formatPercent(job.Progress, job.Status))
	if job.Progress.Message != "" {
		fmt.Fprintf(out, "Message:      %s\n", job.Progress.Message)
	}
	if job.Result != "" {
		fmt.Fprintf(out, "Result:       %s\n", job.Result)
	}
	if job.Error != "" {
		fmt.Fprintf(out, "Error:        %s\n", job.Error)
	}
	if job.RetryOf != "" {
		fmt.Fprintf(out, "Retry of:     %s\n", job.RetryOf)
	}
	fmt.Fprintf(out, "Created:      %s\n", formatAgo(job.CreatedAt))
	fmt.Fprintf(out, "Updated:      %s\n", formatAgo(job.UpdatedAt))
	if len(job.Parameters) > 0 {
		keys := make([]string, 0, len(job.Parameters))
		for key := range job.Parameters {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		fmt.Fprintln(out, "Parameters:")
		for _, key := range keys {
			fmt.Fprintf(out, "  %s = %s\n", key, job.Parameters[key])
		}
	}
	if len(job.LogTail) > 0 {
		fmt.Fprintln(out, "Log tail:")
		for _, line := range job.LogTail {
			fmt.Fprintf(out, "  %s\n", line)
		}
	}
}

func newJobsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry ID",
		Short: "Resubmit a failed job as a new job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				job, err := client.RetryJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, job)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Resubmitted job %s as %s (%s)\n", args[0], job.ID, job.Status)
				return nil
			})
		},
	}
}
