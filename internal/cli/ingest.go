package cli

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/raphaelgruber/mmrag/internal/api"
	"github.com/raphaelgruber/mmrag/internal/client"
	"github.com/raphaelgruber/mmrag/internal/models"
	"github.com/spf13/cobra"
)

var (
	ingestTitle       string
	ingestDescription string
	ingestCourse      string
	ingestUser        string
	ingestTags        []string
	ingestPriority    int
	ingestWait        bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file-or-url>...",
	Short: "Queue files or URLs for processing",
	Long: `Upload local files or queue remote URLs for ingestion.

Each argument becomes its own job. Arguments starting with http:// or
https:// are downloaded by the server; everything else is uploaded.

With --wait and a single argument, a progress display follows the job
until it finishes. Press Ctrl+C to leave it running in the background.

Examples:
  mmrag ingest lecture.mp4 --title "Week 3" --course cs101
  mmrag ingest slides.pdf notes.docx --tags exam,week3
  mmrag ingest https://example.com/talk.mp3 --wait`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "title for the content")
	ingestCmd.Flags().StringVar(&ingestDescription, "description", "", "short description")
	ingestCmd.Flags().StringVar(&ingestCourse, "course", "", "course ID to group content under")
	ingestCmd.Flags().StringVar(&ingestUser, "user", "", "owning user ID")
	ingestCmd.Flags().StringSliceVarP(&ingestTags, "tags", "l", nil, "tags for filtering")
	ingestCmd.Flags().IntVarP(&ingestPriority, "priority", "p", 0, "queue priority (higher first)")
	ingestCmd.Flags().BoolVarP(&ingestWait, "wait", "w", false, "follow the job until it finishes")
}

func isURL(arg string) bool {
	u, err := url.Parse(arg)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	var queued []string
	var failed int
	for _, arg := range args {
		meta := models.JobMetadata{
			Title:       ingestTitle,
			Description: ingestDescription,
			CourseID:    ingestCourse,
			UserID:      ingestUser,
			Tags:        ingestTags,
		}

		var resp *api.IngestAccepted
		var err error
		if isURL(arg) {
			resp, err = apiClient.IngestURL(ctx, arg, meta)
		} else {
			if err = checkUploadable(arg); err == nil {
				resp, err = apiClient.Ingest(ctx, arg, client.IngestOptions{Metadata: meta, Priority: ingestPriority})
			}
		}
		if err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "✗ %s: %v\n", arg, err)
			continue
		}

		queued = append(queued, resp.JobID)
		fmt.Fprintf(out, "Queued %s as job %s", arg, resp.JobID)
		if resp.EstimatedTime != "" {
			fmt.Fprintf(out, " (estimated %s)", resp.EstimatedTime)
		}
		fmt.Fprintln(out)
	}

	if ingestWait && len(queued) == 1 {
		return followJob(cmd, queued[0])
	}
	if len(queued) > 0 && verbose {
		fmt.Fprintf(out, "\nTrack progress with '%s' or 'mmrag watch <job-id>'\n", jobRef(queued[0]))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d items could not be queued", failed, len(args))
	}
	return nil
}

// checkUploadable rejects paths the server would refuse, before uploading
// possibly large files.
func checkUploadable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return errors.New("is a directory")
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, exts := range models.SupportedExtensions {
		for _, e := range exts {
			if e == ext {
				return nil
			}
		}
	}
	return fmt.Errorf("unsupported file type %q (see 'mmrag types')", filepath.Ext(path))
}
