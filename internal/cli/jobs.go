package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/raphaelgruber/mmrag/internal/api"
	"github.com/spf13/cobra"
)

var (
	jobsLimit   int
	logsLimit   int
	logsOffset  int
	deleteForce bool
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List or inspect ingestion jobs",
	Long: `List recent ingestion jobs or inspect a specific job by ID.

Examples:
  mmrag jobs           # List recent jobs
  mmrag jobs abc123    # Show details for job abc123`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

var logsCmd = &cobra.Command{
	Use:   "logs <job-id>",
	Short: "Show the processing log of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogs,
}

var watchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Follow a job until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return followJob(cmd, args[0])
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <job-id>",
	Short: "Delete a job with its chunks and summary",
	Long: `Delete an ingestion job.

This also removes the job's indexed chunks, summary and logs.
Requires confirmation unless --force is used.

Examples:
  mmrag delete abc123
  mmrag delete abc123 --force`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	jobsCmd.Flags().IntVarP(&jobsLimit, "limit", "n", 20, "max jobs to list")
	logsCmd.Flags().IntVarP(&logsLimit, "limit", "n", 0, "max entries (server default 100)")
	logsCmd.Flags().IntVar(&logsOffset, "offset", 0, "entries to skip")
	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "skip confirmation")
}

func runJobs(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		return showJob(cmd, args[0])
	}
	return listJobs(cmd)
}

func listJobs(cmd *cobra.Command) error {
	jobs, err := apiClient.Jobs(cmd.Context(), jobsLimit)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found")
		return nil
	}

	fmt.Fprintf(out, "%-38s %-11s %-9s %-20s %s\n", "ID", "STATUS", "PROGRESS", "STEP", "STARTED")
	fmt.Fprintln(out, strings.Repeat("-", 96))
	for _, job := range jobs {
		fmt.Fprintf(out, "%-38s %-11s %-9s %-20s %s\n",
			job.JobID, job.Status, fmt.Sprintf("%d%%", job.Progress),
			truncate(job.CurrentStep, 20), job.StartedAt.Local().Format("01-02 15:04:05"))
	}
	return nil
}

func showJob(cmd *cobra.Command, id string) error {
	job, err := apiClient.Status(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	printJob(cmd.OutOrStdout(), job)
	return nil
}

func printJob(out io.Writer, job *api.StatusResponse) {
	fmt.Fprintf(out, "Job: %s\n", job.JobID)
	fmt.Fprintf(out, "  Status: %s\n", job.Status)
	fmt.Fprintf(out, "  Progress: %d%%\n", job.Progress)
	if job.CurrentStep != "" {
		fmt.Fprintf(out, "  Step: %s\n", job.CurrentStep)
	}
	if len(job.Steps) > 0 {
		fmt.Fprintf(out, "  Steps: %s\n", strings.Join(job.Steps, " → "))
	}
	fmt.Fprintf(out, "  Started: %s\n", job.StartedAt.Format(time.RFC3339))
	if job.CompletedAt != nil {
		fmt.Fprintf(out, "  Completed: %s\n", job.CompletedAt.Format(time.RFC3339))
		fmt.Fprintf(out, "  Duration: %s\n", job.CompletedAt.Sub(job.StartedAt).Round(time.Second))
	}
	if job.Error != "" {
		fmt.Fprintf(out, "  Error: %s\n", job.Error)
	}
	if job.SummaryURL != "" {
		fmt.Fprintf(out, "\nSummary: mmrag summary %s\n", job.JobID)
	}
}

func runLogs(cmd *cobra.Command, args []string) error {
	page, err := apiClient.Logs(cmd.Context(), args[0], logsLimit, logsOffset)
	if err != nil {
		return fmt.Errorf("get logs: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(page.Logs) == 0 {
		fmt.Fprintln(out, "No log entries")
		return nil
	}
	for _, entry := range page.Logs {
		line := fmt.Sprintf("%s %-5s", entry.Timestamp.Local().Format("15:04:05"), strings.ToUpper(string(entry.Level)))
		if entry.Step != "" {
			line += " [" + entry.Step + "]"
		}
		fmt.Fprintf(out, "%s %s\n", line, entry.Message)
		if verbose && len(entry.Data) > 0 {
			fmt.Fprintf(out, "         %v\n", entry.Data)
		}
	}
	if shown := page.Offset + len(page.Logs); shown < page.Total {
		fmt.Fprintf(out, "\n%d more entries (use --offset %d)\n", page.Total-shown, shown)
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	id := args[0]
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	job, err := apiClient.Status(ctx, id)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}

	if !deleteForce {
		fmt.Fprintf(out, "About to delete job %s (%s)\n", job.JobID, job.Status)
		fmt.Fprint(out, "\nContinue? [y/N]: ")

		reader := bufio.NewReader(cmd.InOrStdin())
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(strings.ToLower(answer))
		if answer != "y" && answer != "yes" {
			fmt.Fprintln(out, "Cancelled")
			return nil
		}
	}

	if err := apiClient.DeleteJob(ctx, id); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	fmt.Fprintf(out, "Deleted job %s\n", id)
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
