package capability

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/raphaelgruber/mmrag/internal/models"
	"github.com/raphaelgruber/mmrag/internal/parser"
)

// ErrUnsupportedFormat is returned for document formats without a parser.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// DocumentParser extracts page text from PDF, Office Open XML and plain
// text documents.
type DocumentParser struct{}

// NewDocumentParser creates a parser.
func NewDocumentParser() *DocumentParser {
	return &DocumentParser{}
}

// Parse returns the document's pages. The format is picked from the file
// extension, then the MIME type.
func (d *DocumentParser) Parse(ctx context.Context, filePath, mimeType string) ([]parser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch format(filePath, mimeType) {
	case "pdf":
		return parsePDF(filePath)
	case "docx":
		return parseDOCX(filePath)
	case "pptx":
		return parsePPTX(filePath)
	case "md":
		return parseText(filePath, true)
	case "txt":
		return parseText(filePath, false)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path.Base(filePath))
	}
}

func format(filePath, mimeType string) string {
	switch ext := models.Extension(filePath); ext {
	case "pdf", "docx", "pptx", "md", "txt":
		return ext
	case "markdown":
		return "md"
	}
	switch mime := strings.ToLower(mimeType); {
	case strings.Contains(mime, "pdf"):
		return "pdf"
	case strings.Contains(mime, "wordprocessingml"):
		return "docx"
	case strings.Contains(mime, "presentationml"):
		return "pptx"
	case mime == "text/markdown":
		return "md"
	case strings.HasPrefix(mime, "text/"):
		return "txt"
	}
	return ""
}

func parsePDF(filePath string) ([]parser.Page, error) {
	f, r, err := pdf.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var pages []parser.Page
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("read pdf page %d: %w", i, err)
		}
		pages = append(pages, parser.Page{Number: i, Text: text})
	}
	return pages, nil
}

// parseText splits plain text into pages at form feeds. Markdown is kept
// as a single page so headings keep their sections. Of its frontmatter only
// the description and tags survive, as text.
func parseText(filePath string, markdown bool) ([]parser.Page, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	text := string(data)

	if markdown {
		doc := parser.ParseMarkdown(text)
		body := doc.Content
		if desc := doc.GetFrontmatterString("description"); desc != "" {
			body = desc + "\n\n" + body
		}
		if doc.Title != "" && !parser.HasMarkdownHeadings(body) {
			body = "# " + doc.Title + "\n\n" + body
		}
		if tags := doc.GetFrontmatterStringSlice("tags"); len(tags) > 0 {
			body = strings.TrimRight(body, "\n") + "\n\nTags: " + strings.Join(tags, ", ")
		}
		return []parser.Page{{Number: 1, Text: body}}, nil
	}

	var pages []parser.Page
	for i, part := range strings.Split(text, "\f") {
		pages = append(pages, parser.Page{Number: i + 1, Text: part})
	}
	return pages, nil
}

// parseDOCX returns the whole document as one page; Word files carry no
// reliable page breaks.
func parseDOCX(filePath string) ([]parser.Page, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			text, err := ooxmlText(f, "p")
			if err != nil {
				return nil, fmt.Errorf("read docx: %w", err)
			}
			return []parser.Page{{Number: 1, Text: text}}, nil
		}
	}
	return nil, errors.New("read docx: word/document.xml missing")
}

// parsePPTX returns one page per slide.
func parsePPTX(filePath string) ([]parser.Page, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, fmt.Errorf("open pptx: %w", err)
	}
	defer zr.Close()

	type slide struct {
		n int
		f *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		name := strings.TrimPrefix(f.Name, "ppt/slides/slide")
		if name == f.Name || !strings.HasSuffix(name, ".xml") || strings.Contains(name, "/") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(name, ".xml"))
		if err != nil {
			continue
		}
		slides = append(slides, slide{n, f})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	pages := make([]parser.Page, 0, len(slides))
	for _, s := range slides {
		text, err := ooxmlText(s.f, "p")
		if err != nil {
			return nil, fmt.Errorf("read slide %d: %w", s.n, err)
		}
		pages = append(pages, parser.Page{Number: s.n, Text: text})
	}
	return pages, nil
}

// ooxmlText concatenates the <t> runs of an Office XML part, ending a line
// at every paragraph element and turning <tab/> into a tab.
func ooxmlText(f *zip.File, paragraph string) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var b strings.Builder
	dec := xml.NewDecoder(rc)
	inText := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteString("\t")
			case "br":
				b.WriteString("\n")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case paragraph:
				b.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}
