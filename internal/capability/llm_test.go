package capability

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/raphaelgruber/mmrag/internal/llm"
	"github.com/raphaelgruber/mmrag/internal/models"
	"github.com/raphaelgruber/mmrag/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTextModel struct {
	responses []string
	err       error
	prompts   []string
	opts      []llm.Options
}

func (f *fakeTextModel) Generate(_ context.Context, prompt string, opts llm.Options) (string, error) {
	f.prompts = append(f.prompts, prompt)
	f.opts = append(f.opts, opts)
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", errors.New("no response queued")
	}
	r := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return r, nil
}

func TestLLMDiarizer(t *testing.T) {
	model := &fakeTextModel{responses: []string{`{"speakers": [1, 2, 9]}`}}
	d := NewLLMDiarizer(model, newPrompts(t), 0)

	in := []pipeline.Segment{
		{Start: 0, Text: "Welcome everyone."},
		{Start: 4, Text: "Thanks for having me."},
		{Start: 65, Text: "Let's begin."},
		{Start: 70, Text: "Sure."},
	}
	out, err := d.Diarize(context.Background(), "ignored.wav", in)
	require.NoError(t, err)

	require.Len(t, out, 4)
	assert.Equal(t, []string{"Speaker 1", "Speaker 2", "Speaker 4", "Speaker 4"},
		[]string{out[0].Speaker, out[1].Speaker, out[2].Speaker, out[3].Speaker})
	assert.Empty(t, in[0].Speaker, "input is not modified")
	assert.Contains(t, model.prompts[0], "3. [01:05] Let's begin.")
	assert.Contains(t, model.prompts[0], "at most 4 speakers")
	assert.True(t, model.opts[0].JSON)
}

func TestLLMDiarizerWindows(t *testing.T) {
	model := &fakeTextModel{responses: []string{`{"speakers": [1]}`, `{"speakers": [2]}`}}
	d := NewLLMDiarizer(model, newPrompts(t), 2)

	in := make([]pipeline.Segment, diarizeWindow+1)
	out, err := d.Diarize(context.Background(), "", in)
	require.NoError(t, err)
	assert.Len(t, model.prompts, 2)
	assert.Equal(t, "Speaker 1", out[diarizeWindow-1].Speaker)
	assert.Equal(t, "Speaker 2", out[diarizeWindow].Speaker)
}

func TestLLMDiarizerErrors(t *testing.T) {
	segs := []pipeline.Segment{{Text: "hi"}}

	_, err := NewLLMDiarizer(&fakeTextModel{err: errors.New("down")}, newPrompts(t), 2).
		Diarize(context.Background(), "", segs)
	assert.ErrorContains(t, err, "label speakers")

	_, err = NewLLMDiarizer(&fakeTextModel{responses: []string{"no idea"}}, newPrompts(t), 2).
		Diarize(context.Background(), "", segs)
	assert.ErrorIs(t, err, errNoJSON)

	_, err = NewLLMDiarizer(&fakeTextModel{responses: []string{`{"speakers": []}`}}, newPrompts(t), 2).
		Diarize(context.Background(), "", segs)
	assert.ErrorContains(t, err, "no labels")
}

func TestLLMSummarizerPromptSelection(t *testing.T) {
	chunks := []models.CanonicalChunk{
		{Text: "Today we cover graphs.", Source: models.ChunkSource{Timestamp: "00:00"}},
		{Text: "BFS vs DFS", VisualContext: "Frame captured at 01:00", Source: models.ChunkSource{Timestamp: "01:00"}},
	}
	resp := `{"title":"Graphs","executiveSummary":"About graphs.","detailedSummary":"Graphs in depth.","keyPoints":["BFS"," ",""],"topics":["graphs"]}`

	tests := []struct {
		name     string
		modality models.Modality
		opts     models.SummaryOptions
		want     string
	}{
		{name: "video", modality: models.ModalityVideo, opts: models.SummaryOptions{IncludeTimeline: true}, want: "## Visual Context"},
		{name: "document", modality: models.ModalityDocument, want: "analyzing and summarizing documents"},
		{name: "audio uses generic", modality: models.ModalityAudio, want: "insightful summaries"},
		{name: "style overrides video", modality: models.ModalityVideo, opts: models.SummaryOptions{Style: models.StyleConcise}, want: "insightful summaries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := &fakeTextModel{responses: []string{"```json\n" + resp + "\n```"}}
			s, err := NewLLMSummarizer(model, newPrompts(t)).Summarize(context.Background(), pipeline.SummaryInput{
				JobID: "j1", Modality: tt.modality, Title: "Lecture", Chunks: chunks, Options: tt.opts,
			})
			require.NoError(t, err)
			require.Len(t, model.prompts, 1)
			assert.Contains(t, model.prompts[0], tt.want)

			assert.Equal(t, "Graphs", s.Title)
			assert.Equal(t, "About graphs.", s.ExecutiveSummary)
			assert.Equal(t, []string{"BFS"}, s.KeyPoints)
			assert.Equal(t, []string{"graphs"}, s.Topics)
			assert.Equal(t, "llm", s.Metadata["generator"])
		})
	}
}

func TestLLMSummarizerVideoSplitsVisual(t *testing.T) {
	transcript, visual := splitVisual([]models.CanonicalChunk{
		{Text: "spoken", Source: models.ChunkSource{Timestamp: "00:10"}},
		{Text: "on screen", VisualContext: "Frame captured at 00:20", Source: models.ChunkSource{Timestamp: "00:20"}},
	})
	assert.Equal(t, "[00:10] spoken", transcript)
	assert.Equal(t, "[00:20] on screen", visual)
}

func TestLLMSummarizerFailures(t *testing.T) {
	in := pipeline.SummaryInput{Modality: models.ModalityDocument, Chunks: []models.CanonicalChunk{{Text: "x"}}}

	_, err := NewLLMSummarizer(&fakeTextModel{err: errors.New("down")}, newPrompts(t)).Summarize(context.Background(), in)
	assert.ErrorContains(t, err, "generate summary")

	_, err = NewLLMSummarizer(&fakeTextModel{responses: []string{`{"title":"only"}`}}, newPrompts(t)).Summarize(context.Background(), in)
	assert.ErrorContains(t, err, "empty summary")

	in.Options.MaxLength = 10
	long := `{"executiveSummary":"e","detailedSummary":"` + strings.Repeat("a", 50) + `"}`
	s, err := NewLLMSummarizer(&fakeTextModel{responses: []string{long}}, newPrompts(t)).Summarize(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("a", 10)+"...", s.DetailedSummary)
}
