package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/raphaelgruber/mmrag/internal/models"
	"github.com/raphaelgruber/mmrag/internal/parser"
)

var documentSteps = []step{
	{"Parse Document", 20},
	{"Analyze Structure", 40},
	{"Extract Tables", 55},
	{StepGenerateEmbeddings, 75},
	{StepCreateSummary, 90},
	{StepStoreResults, 100},
}

const (
	sectionConfidence = 0.95
	tableConfidence   = 0.9
)

// Document splits documents into heading-delimited sections and tables.
type Document struct {
	deps Deps
}

// NewDocument creates the document pipeline.
func NewDocument(deps Deps) *Document {
	return &Document{deps: deps}
}

func (p *Document) Modality() models.Modality { return models.ModalityDocument }

func (p *Document) Steps() []string { return stepNames(documentSteps) }

func (p *Document) Initialize(ctx context.Context) error {
	if p.deps.Parser == nil {
		return errors.New("document pipeline: parser required")
	}
	p.deps.logger(models.ModalityDocument).Info("pipeline ready")
	return nil
}

func (p *Document) Process(ctx context.Context, job *models.IngestionJob, progress ProgressFunc) models.ProcessingResult {
	r := newRun(p.deps, models.ModalityDocument, job, progress)

	var (
		pages   []parser.Page
		layout  parser.Layout
		chunks  []models.CanonicalChunk
		summary *models.Summary
	)

	r.required(ctx, documentSteps[0], func(ctx context.Context) (err error) {
		mime := job.Metadata.MimeType
		if mime == "" {
			mime = models.MimeTypeFor(job.Metadata.FileName)
		}
		pages, err = p.deps.Parser.Parse(ctx, job.Source.FilePath, mime)
		return err
	})
	r.required(ctx, documentSteps[1], func(ctx context.Context) error {
		layout = parser.AnalyzePages(pages)
		chunks = sectionChunks(job, layout.Sections)
		r.log.Debug("analyzed structure", "pages", len(pages), "sections", len(layout.Sections))
		return nil
	})
	r.required(ctx, documentSteps[2], func(ctx context.Context) error {
		chunks = append(chunks, tableChunks(job, layout.Tables)...)
		return nil
	})
	r.required(ctx, documentSteps[3], func(ctx context.Context) error {
		return p.deps.generateEmbeddings(ctx, chunks)
	})
	r.optional(ctx, documentSteps[4], func(ctx context.Context) error {
		summary = p.deps.createSummary(ctx, r.log, job, models.ModalityDocument, chunks)
		return nil
	})
	r.required(ctx, documentSteps[5], func(ctx context.Context) error {
		return p.deps.storeResults(ctx, chunks, summary)
	})

	return r.result(len(chunks))
}

// sectionChunks emits "## title\n\nbody" chunks, splitting long sections
// near the document chunk size. Indexes run across all sections.
func sectionChunks(job *models.IngestionJob, sections []parser.DocSection) []models.CanonicalChunk {
	cfg := parser.SplitConfigFor(models.ChunkSizes[models.ModalityDocument])

	var chunks []models.CanonicalChunk
	for _, s := range sections {
		for _, piece := range parser.Split(s.Content, cfg) {
			text := "## " + s.Title + "\n\n" + piece
			c := newChunk(job, models.ModalityDocument, models.ChunkID(job.JobID, "section", len(chunks)), text)
			c.Source.Page = s.Page
			c.Confidence = sectionConfidence
			chunks = append(chunks, c)
		}
	}
	return chunks
}

func tableChunks(job *models.IngestionJob, tables []parser.Table) []models.CanonicalChunk {
	var chunks []models.CanonicalChunk
	for _, t := range tables {
		md := t.ToMarkdown()
		if md == "" {
			continue
		}
		text, context := md, "Table data"
		if caption := strings.TrimSpace(t.Caption); caption != "" {
			text = caption + "\n\n" + md
			context = caption
		}
		c := newChunk(job, models.ModalityDocument, models.ChunkID(job.JobID, "table", len(chunks)), text)
		c.Source.Page = t.Page
		c.VisualContext = context
		c.Confidence = tableConfidence
		chunks = append(chunks, c)
	}
	return chunks
}
