package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzePages_SectionsAndTable(t *testing.T) {
	pages := []Page{
		{Number: 1, Text: "INTRODUCTION\nThis course covers graph algorithms.\nWe start with traversal."},
		{Number: 2, Text: "Results\nThe measured runtimes are shown below.\n\nTable 1: Runtime by algorithm\n| Algorithm | Runtime |\n|---|---|\n| BFS | O(V+E) |\n| Dijkstra | O(E log V) |\n\nBoth scale well."},
		{Number: 3, Text: "2.1 Conclusion\nGraphs are everywhere."},
	}

	layout := AnalyzePages(pages)

	require.Len(t, layout.Sections, 3)
	assert.Equal(t, "INTRODUCTION", layout.Sections[0].Title)
	assert.Equal(t, 1, layout.Sections[0].Page)
	assert.Equal(t, "Results", layout.Sections[1].Title)
	assert.Equal(t, 2, layout.Sections[1].Page)
	assert.Contains(t, layout.Sections[1].Content, "Both scale well.")
	assert.NotContains(t, layout.Sections[1].Content, "Table 1", "caption belongs to the table")
	assert.NotContains(t, layout.Sections[1].Content, "Dijkstra")
	assert.Equal(t, "2.1 Conclusion", layout.Sections[2].Title)

	require.Len(t, layout.Tables, 1)
	table := layout.Tables[0]
	assert.Equal(t, 2, table.Page)
	assert.Equal(t, "Table 1: Runtime by algorithm", table.Caption)
	require.Len(t, table.Rows, 3, "separator row is dropped")
	assert.Equal(t, []string{"Algorithm", "Runtime"}, table.Rows[0])
}

func TestAnalyzePages_ContinuationAndUntitled(t *testing.T) {
	pages := []Page{
		{Number: 1, Text: "just some prose without a heading."},
		{Number: 2, Text: "Methods\nwe measured things."},
		{Number: 3, Text: "more about the methods."},
		{Number: 4, Text: "   "},
	}

	layout := AnalyzePages(pages)
	require.Len(t, layout.Sections, 3)
	assert.Equal(t, "Page 1", layout.Sections[0].Title)
	assert.Equal(t, "Methods", layout.Sections[1].Title)
	assert.Equal(t, "Methods (continued)", layout.Sections[2].Title)
	assert.Equal(t, 3, layout.Sections[2].Page)
}

func TestAnalyzePages_Markdown(t *testing.T) {
	text := "Preamble text.\n\n# Guide\n\nIntro body.\n\n## Setup\n\nInstall it.\n\n## Empty\n"
	layout := AnalyzePages([]Page{{Number: 1, Text: text}})

	require.Len(t, layout.Sections, 3)
	assert.Equal(t, "Page 1", layout.Sections[0].Title)
	assert.Equal(t, "Preamble text.", layout.Sections[0].Content)
	assert.Equal(t, "Guide", layout.Sections[1].Title)
	assert.Equal(t, "Setup", layout.Sections[2].Title)
}

func TestIsHeading(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"INTRODUCTION", true},
		{"1. Getting Started", true},
		{"3.2 Results", true},
		{"Chapter 4 Trees", true},
		{"Results and Discussion", true},
		{"This is a normal sentence.", false},
		{"and then we continued", false},
		{"Results:", false},
		{"", false},
		{"42", false},
		{strings.Repeat("Word ", 20), false},
	}

	for _, tt := range tests {
		if got := isHeading(strings.TrimSpace(tt.line)); got != tt.want {
			t.Errorf("isHeading(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestTableToMarkdown(t *testing.T) {
	table := Table{Rows: [][]string{
		{"Name", "Score"},
		{"a|b", "1"},
		{"short"},
	}}

	want := "| Name | Score |\n| --- | --- |\n| a\\|b | 1 |\n| short |  |"
	assert.Equal(t, want, table.ToMarkdown())
	assert.Equal(t, "", Table{}.ToMarkdown())
}

func TestExtractTables_TabSeparated(t *testing.T) {
	body, tables := extractTables("Intro line\nx\ty\n1\t2\nAfter", 5)
	require.Len(t, tables, 1)
	assert.Equal(t, 5, tables[0].Page)
	assert.Empty(t, tables[0].Caption)
	assert.Equal(t, "Intro line\nAfter", body)
}

func TestParseMarkdownFrontmatter(t *testing.T) {
	doc := ParseMarkdown("---\ntitle: Week 1\ntags: [graphs, bfs]\n---\n# Heading\n\nBody")
	assert.Equal(t, "Week 1", doc.Title)
	assert.Equal(t, []string{"graphs", "bfs"}, doc.GetFrontmatterStringSlice("tags"))
	assert.Equal(t, "# Heading\n\nBody", doc.Content)
	require.Len(t, doc.Sections, 1)
	assert.Equal(t, "# Heading", doc.Sections[0].Path)

	noFM := ParseMarkdown("# Only Title\ntext")
	assert.Equal(t, "Only Title", noFM.Title)
	assert.Empty(t, noFM.Frontmatter)

	csv := ParseMarkdown("---\ntags: a, b\n---\nx")
	assert.Equal(t, []string{"a", "b"}, csv.GetFrontmatterStringSlice("tags"))
}
