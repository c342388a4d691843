package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/raphaelgruber/mmrag/internal/models"
	"github.com/spf13/cobra"
)

var (
	summaryExecutive  bool
	summaryRegenerate bool
	summaryStyle      string
	summaryMaxLength  int
	summaryFocus      []string
	summaryLanguage   string
	summaryTimeline   bool
	summaryWait       bool
)

var summaryCmd = &cobra.Command{
	Use:   "summary <job-id>",
	Short: "Show or regenerate the summary of a job",
	Long: `Show the summary generated for a completed job.

Use --regenerate to queue a new summary with different options. The
original summary stays in place until the regeneration job completes.

Examples:
  mmrag summary abc123
  mmrag summary abc123 --executive
  mmrag summary abc123 --regenerate --style concise --focus "exam topics"`,
	Args: cobra.ExactArgs(1),
	RunE: runSummary,
}

func init() {
	summaryCmd.Flags().BoolVarP(&summaryExecutive, "executive", "e", false, "only the executive summary and key points")
	summaryCmd.Flags().BoolVar(&summaryRegenerate, "regenerate", false, "queue a new summary")
	summaryCmd.Flags().StringVar(&summaryStyle, "style", "", "summary style: concise, detailed, academic, casual")
	summaryCmd.Flags().IntVar(&summaryMaxLength, "max-length", 0, "target length in words")
	summaryCmd.Flags().StringSliceVar(&summaryFocus, "focus", nil, "areas to emphasize")
	summaryCmd.Flags().StringVar(&summaryLanguage, "language", "", "output language")
	summaryCmd.Flags().BoolVar(&summaryTimeline, "timeline", false, "include a timeline for video and audio")
	summaryCmd.Flags().BoolVarP(&summaryWait, "wait", "w", false, "follow the regeneration job")
}

func runSummary(cmd *cobra.Command, args []string) error {
	if summaryRegenerate {
		return runRegenerate(cmd, args[0])
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if summaryExecutive {
		s, err := apiClient.ExecutiveSummary(ctx, args[0])
		if err != nil {
			return fmt.Errorf("get summary: %w", err)
		}
		fmt.Fprintf(out, "# %s\n\n%s\n", s.Title, s.ExecutiveSummary)
		printList(out, "Key points", s.KeyPoints)
		return nil
	}

	s, err := apiClient.Summary(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get summary: %w", err)
	}
	printSummary(out, s)
	return nil
}

func printSummary(out io.Writer, s *models.Summary) {
	fmt.Fprintf(out, "# %s\n\n", s.Title)
	fmt.Fprintf(out, "%s\n", s.ExecutiveSummary)
	if s.DetailedSummary != "" {
		fmt.Fprintf(out, "\n## Details\n\n%s\n", s.DetailedSummary)
	}
	printList(out, "Key points", s.KeyPoints)
	if len(s.Topics) > 0 {
		fmt.Fprintf(out, "\nTopics: %s\n", strings.Join(s.Topics, ", "))
	}
	if len(s.Timeline) > 0 {
		fmt.Fprintf(out, "\n## Timeline\n\n")
		for _, e := range s.Timeline {
			fmt.Fprintf(out, "  %-6s %s", e.Timestamp, e.Title)
			if e.Description != "" {
				fmt.Fprintf(out, ": %s", e.Description)
			}
			fmt.Fprintln(out)
		}
	}
	if verbose && !s.GeneratedAt.IsZero() {
		fmt.Fprintf(out, "\nGenerated %s\n", s.GeneratedAt.Local().Format("2006-01-02 15:04"))
	}
}

func printList(out io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(out, "\n## %s\n\n", title)
	for _, item := range items {
		fmt.Fprintf(out, "  • %s\n", item)
	}
}

func runRegenerate(cmd *cobra.Command, jobID string) error {
	var opts *models.SummaryOptions
	if cmd.Flags().Changed("style") || summaryMaxLength > 0 || len(summaryFocus) > 0 ||
		summaryLanguage != "" || summaryTimeline {
		style := models.SummaryStyle(summaryStyle)
		if !style.Valid() {
			return fmt.Errorf("unknown style %q", summaryStyle)
		}
		opts = &models.SummaryOptions{
			Style:           style,
			MaxLength:       summaryMaxLength,
			FocusAreas:      summaryFocus,
			Language:        summaryLanguage,
			IncludeTimeline: summaryTimeline,
		}
	}

	id, err := apiClient.Regenerate(cmd.Context(), jobID, opts)
	if err != nil {
		return fmt.Errorf("regenerate summary: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Queued summary regeneration as job %s\n", id)
	if summaryWait {
		return followJob(cmd, id)
	}
	return nil
}
