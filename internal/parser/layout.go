package parser

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Page is the extracted text of one document page, numbered from 1.
type Page struct {
	Number int
	Text   string
}

// DocSection is a heading plus its body on a single page.
type DocSection struct {
	Title   string
	Content string
	Page    int
}

// Layout is the structure recovered from a document's pages.
type Layout struct {
	Sections []DocSection
	Tables   []Table
}

var (
	numberedHeading = regexp.MustCompile(`^(\d+(\.\d+)*\.?|[IVXLC]+\.|Chapter\s+\d+|Section\s+\d+(\.\d+)*)\s+\S`)
	captionLine     = regexp.MustCompile(`(?i)^(table|tab\.)\s+[0-9IVX]+[a-z]?\s*[.:-]?(\s|$)`)
)

const (
	maxHeadingLen   = 80
	maxHeadingWords = 10
)

// AnalyzePages recovers sections and tables from page text. Sections never
// span pages: text at the top of a page that continues the previous page's
// section is emitted as "<title> (continued)", or "Page N" when there is no
// previous heading.
func AnalyzePages(pages []Page) Layout {
	var layout Layout
	lastTitle := ""

	for _, page := range pages {
		text := strings.ReplaceAll(page.Text, "\r\n", "\n")
		body, tables := extractTables(text, page.Number)
		layout.Tables = append(layout.Tables, tables...)

		var sections []DocSection
		if HasMarkdownHeadings(body) {
			sections = markdownSections(body, page.Number)
		} else {
			sections = heuristicSections(body, page.Number)
		}

		for i := range sections {
			if sections[i].Title == "" {
				if lastTitle != "" {
					sections[i].Title = lastTitle + " (continued)"
				} else {
					sections[i].Title = fmt.Sprintf("Page %d", page.Number)
				}
			} else {
				lastTitle = sections[i].Title
			}
		}
		layout.Sections = append(layout.Sections, sections...)
	}
	return layout
}

func markdownSections(text string, page int) []DocSection {
	var out []DocSection
	for _, s := range parseSections(text) {
		if strings.TrimSpace(s.Content) == "" {
			continue
		}
		out = append(out, DocSection{Title: s.Heading, Content: s.Content, Page: page})
	}
	return out
}

func heuristicSections(text string, page int) []DocSection {
	var out []DocSection
	title := ""
	var body []string

	flush := func() {
		content := strings.TrimSpace(strings.Join(body, "\n"))
		if content != "" {
			out = append(out, DocSection{Title: title, Content: content, Page: page})
		}
		body = body[:0]
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if isHeading(trimmed) && hasBodyAfter(lines, i) {
			flush()
			title = trimmed
			continue
		}
		body = append(body, line)
	}
	flush()
	return out
}

// hasBodyAfter reports whether a non-blank line follows index i.
func hasBodyAfter(lines []string, i int) bool {
	for _, l := range lines[i+1:] {
		if strings.TrimSpace(l) != "" {
			return true
		}
	}
	return false
}

// isHeading applies layout heuristics to a single trimmed line: short, no
// trailing sentence punctuation, and either numbered, upper case or title case.
func isHeading(line string) bool {
	if line == "" || len(line) > maxHeadingLen {
		return false
	}
	words := strings.Fields(line)
	if len(words) > maxHeadingWords {
		return false
	}
	last := rune(line[len(line)-1])
	if strings.ContainsRune(".,;:!?", last) {
		return false
	}

	letters, upper := 0, 0
	for _, r := range line {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters < 2 {
		return false
	}

	if numberedHeading.MatchString(line) {
		return true
	}
	if upper == letters && letters >= 3 {
		return true
	}
	return isTitleCase(words)
}

func isTitleCase(words []string) bool {
	significant := 0
	for _, w := range words {
		r := []rune(w)
		if len(r) < 4 {
			continue
		}
		significant++
		if !unicode.IsUpper(r[0]) {
			return false
		}
	}
	return significant > 0 && len(words) <= 6
}

// isCaption reports whether line introduces a table, like "Table 2: Results".
func isCaption(line string) bool {
	return captionLine.MatchString(line) && len(line) <= 200
}
