package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/mmrag/internal/api"
	"github.com/raphaelgruber/mmrag/internal/client"
	"github.com/raphaelgruber/mmrag/internal/models"
	"github.com/spf13/cobra"
)

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// statusMsg carries one update from the watch stream.
type statusMsg struct {
	job *api.StatusResponse
}

// watchEndedMsg is sent when the watch stream closes.
type watchEndedMsg struct {
	err error
}

// progressModel is the bubbletea model for job progress.
type progressModel struct {
	jobID    string
	job      *api.StatusResponse
	updates  <-chan *api.StatusResponse
	ended    <-chan error
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
	err      error
}

func newProgressModel(jobID string, updates <-chan *api.StatusResponse, ended <-chan error) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)
	return progressModel{
		jobID:    jobID,
		updates:  updates,
		ended:    ended,
		progress: prog,
		theme:    defaultTheme,
	}
}

func (m progressModel) Init() tea.Cmd {
	return tea.Batch(m.next(), m.progress.Init())
}

// next waits for the watch stream in a command so Update never blocks.
func (m progressModel) next() tea.Cmd {
	return func() tea.Msg {
		select {
		case st := <-m.updates:
			return statusMsg{job: st}
		case err := <-m.ended:
			return watchEndedMsg{err: err}
		}
	}
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			m.done = true
			return m, tea.Quit
		}

	case statusMsg:
		m.job = msg.job
		switch m.job.Status {
		case models.StatusCompleted:
			m.done = true
			return m, tea.Quit
		case models.StatusFailed:
			m.done = true
			m.err = jobError(m.job)
			return m, tea.Quit
		}
		return m, m.next()

	case watchEndedMsg:
		m.done = true
		if msg.err != nil {
			m.err = fmt.Errorf("lost connection to job: %w", msg.err)
		} else if m.job == nil || !m.job.Status.IsTerminal() {
			m.err = errors.New("watch ended before the job finished")
		}
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done {
		return m.finalView()
	}
	if m.job == nil {
		return "Waiting for job status...\n"
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.job.Status))
	bar := m.progress.ViewAs(float64(m.job.Progress) / 100)
	step := m.job.CurrentStep
	hint := m.theme.hintStyle().Render("Press Ctrl+C to continue in background")

	return fmt.Sprintf("%s %s %3d%% %s\n%s\n", status, bar, m.job.Progress, step, hint)
}

func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nJob %s continues in background.\nUse '%s' to check status.\n", m.jobID, jobRef(m.jobID))
		return m.theme.hintStyle().Render(msg)
	}
	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Job failed: %s\n", m.err))
	}

	var b strings.Builder
	b.WriteString(m.theme.completedStyle().Render("✓ Completed"))
	b.WriteString("\n\n")
	if m.job != nil {
		if len(m.job.Steps) > 0 {
			fmt.Fprintf(&b, "  Steps: %s\n", strings.Join(m.job.Steps, " → "))
		}
		if m.job.CompletedAt != nil {
			fmt.Fprintf(&b, "  Took:  %s\n", m.job.CompletedAt.Sub(m.job.StartedAt).Round(time.Second))
		}
	}
	fmt.Fprintf(&b, "  Summary: mmrag summary %s\n", m.jobID)
	return b.String()
}

func jobError(job *api.StatusResponse) error {
	if job.Error != "" {
		return errors.New(job.Error)
	}
	return errors.New("job failed with unknown error")
}

// startWatch streams updates for jobID into the returned channels. ended
// receives exactly one value once the stream stops.
func startWatch(ctx context.Context, c *client.Client, jobID string) (<-chan *api.StatusResponse, <-chan error) {
	updates := make(chan *api.StatusResponse)
	ended := make(chan error, 1)
	go func() {
		ended <- c.Watch(ctx, jobID, func(st *api.StatusResponse) error {
			select {
			case updates <- st:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()
	return updates, ended
}

// RunJobProgress runs the interactive progress UI for a job.
// Returns nil on success or Ctrl+C (background), error on job failure.
func RunJobProgress(ctx context.Context, c *client.Client, jobID string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates, ended := startWatch(ctx, c, jobID)
	p := tea.NewProgram(newProgressModel(jobID, updates, ended))

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(progressModel); ok {
		// Ctrl+C leaves the job running; not an error.
		if m.quitting {
			return nil
		}
		if m.err != nil {
			return m.err
		}
	}
	return nil
}

// watchPlain prints one line per status change, for pipes and logs.
func watchPlain(ctx context.Context, out io.Writer, c *client.Client, jobID string) error {
	var last *api.StatusResponse
	err := c.Watch(ctx, jobID, func(st *api.StatusResponse) error {
		if last == nil || last.Status != st.Status || last.Progress != st.Progress || last.CurrentStep != st.CurrentStep {
			fmt.Fprintf(out, "[%s] %3d%% %s\n", st.Status, st.Progress, st.CurrentStep)
		}
		last = st
		return nil
	})
	if err != nil {
		return err
	}
	if last != nil && last.Status == models.StatusFailed {
		return jobError(last)
	}
	fmt.Fprintf(out, "Summary: mmrag summary %s\n", jobID)
	return nil
}

// followJob shows progress for jobID, interactively when attached to a terminal.
func followJob(cmd *cobra.Command, jobID string) error {
	if interactive() {
		return RunJobProgress(cmd.Context(), apiClient, jobID)
	}
	return watchPlain(cmd.Context(), cmd.OutOrStdout(), apiClient, jobID)
}
