package parser

import (
	"regexp"
	"strings"
)

// Table is a grid of cells recovered from page text. The first row is the header.
type Table struct {
	Caption string
	Rows    [][]string
	Page    int
}

var separatorRow = regexp.MustCompile(`^\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)*\|?$`)

// minTableRows is the smallest block treated as a table (header + one row).
const minTableRows = 2

// ToMarkdown renders the table as a GitHub-flavored Markdown table.
// Short rows are padded and pipes inside cells are escaped.
func (t Table) ToMarkdown() string {
	if len(t.Rows) == 0 {
		return ""
	}
	width := 0
	for _, r := range t.Rows {
		width = max(width, len(r))
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		b.WriteString("|")
		for i := 0; i < width; i++ {
			cell := ""
			if i < len(cells) {
				cell = strings.ReplaceAll(strings.TrimSpace(cells[i]), "|", `\|`)
			}
			b.WriteString(" " + cell + " |")
		}
		b.WriteString("\n")
	}

	writeRow(t.Rows[0])
	b.WriteString("|")
	for i := 0; i < width; i++ {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")
	for _, r := range t.Rows[1:] {
		writeRow(r)
	}
	return strings.TrimRight(b.String(), "\n")
}

// splitRow returns the cells of a table-looking line, or nil.
func splitRow(line string) []string {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}

	var cells []string
	switch {
	case strings.Contains(trimmed, "|"):
		trimmed = strings.TrimSuffix(strings.TrimPrefix(trimmed, "|"), "|")
		cells = strings.Split(trimmed, "|")
	case strings.Contains(trimmed, "\t"):
		cells = strings.Split(trimmed, "\t")
	default:
		return nil
	}

	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	if len(cells) < 2 {
		return nil
	}
	return cells
}

// extractTables pulls table blocks (and their caption lines) out of text and
// returns the remaining body text.
func extractTables(text string, page int) (string, []Table) {
	lines := strings.Split(text, "\n")
	var body []string
	var tables []Table

	for i := 0; i < len(lines); {
		var rows [][]string
		j := i
		for ; j < len(lines); j++ {
			if separatorRow.MatchString(strings.TrimSpace(lines[j])) && len(rows) > 0 {
				continue
			}
			cells := splitRow(lines[j])
			if cells == nil {
				break
			}
			rows = append(rows, cells)
		}

		if len(rows) < minTableRows {
			body = append(body, lines[i])
			i++
			continue
		}

		table := Table{Rows: rows, Page: page}
		if caption := precedingCaption(body); caption != "" {
			table.Caption = caption
			body = dropLastNonBlank(body)
		}
		tables = append(tables, table)
		i = j
	}
	return strings.Join(body, "\n"), tables
}

func precedingCaption(body []string) string {
	for k := len(body) - 1; k >= 0; k-- {
		line := strings.TrimSpace(body[k])
		if line == "" {
			continue
		}
		if isCaption(line) {
			return line
		}
		return ""
	}
	return ""
}

func dropLastNonBlank(body []string) []string {
	for k := len(body) - 1; k >= 0; k-- {
		if strings.TrimSpace(body[k]) != "" {
			return append(body[:k], body[k+1:]...)
		}
	}
	return body
}
