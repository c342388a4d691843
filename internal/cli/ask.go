package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/raphaelgruber/mmrag/internal/models"
	"github.com/spf13/cobra"
)

var (
	askJobs          []string
	askModality      string
	askCourse        string
	askTags          []string
	askLimit         int
	askStream        bool
	askPromptVersion string
	askOutputFile    string
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question and get an answer with sources",
	Long: `Ask a question about ingested content and get an LLM-synthesized answer.

Relevant chunks are retrieved by similarity search across all modalities
and the answer cites where each fact came from: a page for documents and
a timestamp for video and audio.

Examples:
  mmrag ask "What is a monad?"
  mmrag ask "Which slides cover recursion?" --modality document
  mmrag ask "Summarize the Q&A part" --job abc123 --no-stream
  mmrag ask "Key formulas" --course cs101 -o notes.md`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

var suggestCmd = &cobra.Command{
	Use:   "suggest [job-id]",
	Short: "Suggest questions to ask",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSuggest,
}

func init() {
	askCmd.Flags().StringSliceVarP(&askJobs, "job", "j", nil, "restrict to these job IDs")
	askCmd.Flags().StringVarP(&askModality, "modality", "m", "", "restrict to one modality (video, audio, document, image)")
	askCmd.Flags().StringVar(&askCourse, "course", "", "restrict to a course ID")
	askCmd.Flags().StringSliceVarP(&askTags, "tags", "l", nil, "restrict to chunks with these tags")
	askCmd.Flags().IntVarP(&askLimit, "limit", "n", 0, "max context chunks (server default)")
	askCmd.Flags().BoolVar(&askStream, "stream", true, "stream the answer as it is generated")
	askCmd.Flags().StringVar(&askPromptVersion, "prompt-version", "", "answer prompt version")
	askCmd.Flags().StringVarP(&askOutputFile, "output", "o", "", "write the answer to file")
}

func buildQuery(question string) (models.QueryRequest, error) {
	req := models.QueryRequest{Question: question, JobIDs: askJobs}

	if askModality != "" || askCourse != "" || len(askTags) > 0 {
		f := &models.QueryFilters{
			Modality: models.Modality(askModality),
			CourseID: askCourse,
			Tags:     askTags,
		}
		if f.Modality != "" && !f.Modality.Valid() {
			return req, fmt.Errorf("unknown modality %q", askModality)
		}
		req.Filters = f
	}
	if askLimit > 0 || askPromptVersion != "" {
		req.Options = &models.QueryOptions{MaxResults: askLimit, PromptVersion: askPromptVersion}
	}
	return req, nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	if models.IsBlank(args[0]) {
		return fmt.Errorf("question must not be empty")
	}
	req, err := buildQuery(args[0])
	if err != nil {
		return err
	}

	if askStream && askOutputFile == "" {
		return streamAnswer(cmd, req)
	}

	res, err := apiClient.Query(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}

	var b strings.Builder
	b.WriteString(res.Answer)
	b.WriteString("\n")
	writeSources(&b, res.Sources)
	if verbose {
		fmt.Fprintf(&b, "\nConfidence %.0f%%, %dms\n", res.Confidence*100, res.ProcessingTime)
	}

	if askOutputFile != "" {
		if err := os.WriteFile(askOutputFile, []byte(b.String()), 0o644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Answer written to %s\n", askOutputFile)
		return nil
	}
	_, err = io.WriteString(cmd.OutOrStdout(), b.String())
	return err
}

func streamAnswer(cmd *cobra.Command, req models.QueryRequest) error {
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()
	var sourceIDs []string

	err := apiClient.QueryStream(cmd.Context(), req, func(ev models.StreamEvent) error {
		switch ev.Type {
		case models.EventStatus:
			if verbose {
				fmt.Fprintf(errOut, "… %s\n", ev.Content)
			}
		case models.EventSources:
			if err := json.Unmarshal([]byte(ev.Content), &sourceIDs); err != nil {
				return fmt.Errorf("decode sources: %w", err)
			}
		case models.EventAnswer:
			fmt.Fprint(out, ev.Content)
		case models.EventDone:
			fmt.Fprintln(out)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}

	if len(sourceIDs) > 0 {
		fmt.Fprintf(out, "\nSources: %s\n", strings.Join(sourceIDs, ", "))
	}
	return nil
}

func writeSources(b *strings.Builder, sources []models.RetrievedChunk) {
	if len(sources) == 0 {
		return
	}
	b.WriteString("\nSources:\n")
	for i, s := range sources {
		fmt.Fprintf(b, "  [%d] %s (%s", i+1, s.Source.FileID, s.Modality)
		switch {
		case s.Source.Timestamp != "":
			fmt.Fprintf(b, " at %s", s.Source.Timestamp)
		case s.Source.Page > 0:
			fmt.Fprintf(b, " page %d", s.Source.Page)
		}
		fmt.Fprintf(b, ", score %.2f)\n", s.Score)
		if verbose {
			fmt.Fprintf(b, "      %s\n", truncate(strings.ReplaceAll(s.Text, "\n", " "), 100))
		}
	}
}

func runSuggest(cmd *cobra.Command, args []string) error {
	var jobID string
	if len(args) == 1 {
		jobID = args[0]
	}
	questions, err := apiClient.Suggestions(cmd.Context(), jobID)
	if err != nil {
		return fmt.Errorf("get suggestions: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(questions) == 0 {
		fmt.Fprintln(out, "No suggestions yet")
		return nil
	}
	for _, q := range questions {
		fmt.Fprintf(out, "  • %s\n", q)
	}
	return nil
}
