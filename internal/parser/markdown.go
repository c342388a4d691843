// Package parser turns extracted document text into sections, tables and
// size-bounded pieces.
package parser

import (
	"bufio"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	headingRegex = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	h1Regex      = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	anyHeading   = regexp.MustCompile(`(?m)^#{1,6}\s+\S`)
)

// MarkdownDoc represents a parsed Markdown document.
type MarkdownDoc struct {
	// Frontmatter metadata (from YAML)
	Frontmatter map[string]any

	// Title extracted from first h1 or frontmatter
	Title string

	// Main content (after frontmatter)
	Content string

	// Structured content by heading
	Sections []Section
}

// Section represents a heading and its content.
// Level 0 holds text that precedes the first heading.
type Section struct {
	Level   int    // 0-6
	Heading string // The heading text
	Path    string // Full path like "## Setup > ### Install"
	Content string // Content under this heading
	Start   int    // Line number where section starts
	End     int    // Line number where section ends
}

// ParseMarkdown parses a Markdown document into structured form.
// Invalid frontmatter is ignored rather than reported.
func ParseMarkdown(content string) *MarkdownDoc {
	doc := &MarkdownDoc{
		Frontmatter: make(map[string]any),
	}

	content = strings.ReplaceAll(content, "\r\n", "\n")
	remaining := content
	if strings.HasPrefix(content, "---\n") {
		endIdx := strings.Index(content[4:], "\n---")
		if endIdx >= 0 {
			frontmatterYAML := content[4 : 4+endIdx]
			remaining = strings.TrimPrefix(content[4+endIdx+4:], "\n")

			if err := yaml.Unmarshal([]byte(frontmatterYAML), &doc.Frontmatter); err != nil || doc.Frontmatter == nil {
				doc.Frontmatter = make(map[string]any)
			}
		}
	}

	doc.Content = remaining
	doc.Title = extractTitle(doc.Frontmatter, remaining)
	doc.Sections = parseSections(remaining)

	return doc
}

// HasMarkdownHeadings reports whether text contains at least one ATX heading.
func HasMarkdownHeadings(text string) bool {
	return anyHeading.MatchString(text)
}

// extractTitle gets title from frontmatter or first h1.
func extractTitle(fm map[string]any, content string) string {
	if title, ok := fm["title"].(string); ok && title != "" {
		return title
	}
	if name, ok := fm["name"].(string); ok && name != "" {
		return name
	}
	if match := h1Regex.FindStringSubmatch(content); len(match) > 1 {
		return strings.TrimSpace(match[1])
	}
	return ""
}

// parseSections extracts sections from Markdown content.
func parseSections(content string) []Section {
	var sections []Section

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	var currentPath []string
	var currentLevels []int

	currentSection := &Section{Start: 1}
	var contentBuilder strings.Builder

	flushSection := func(endLine int) {
		currentSection.Content = strings.TrimSpace(contentBuilder.String())
		currentSection.End = endLine
		if currentSection.Level > 0 || currentSection.Content != "" {
			sections = append(sections, *currentSection)
		}
		contentBuilder.Reset()
	}

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		match := headingRegex.FindStringSubmatch(line)
		if match == nil {
			contentBuilder.WriteString(line)
			contentBuilder.WriteString("\n")
			continue
		}

		flushSection(lineNum - 1)

		level := len(match[1])
		heading := strings.TrimSpace(strings.TrimRight(match[2], "# "))

		for len(currentLevels) > 0 && currentLevels[len(currentLevels)-1] >= level {
			currentPath = currentPath[:len(currentPath)-1]
			currentLevels = currentLevels[:len(currentLevels)-1]
		}
		currentPath = append(currentPath, match[1]+" "+heading)
		currentLevels = append(currentLevels, level)

		currentSection = &Section{
			Level:   level,
			Heading: heading,
			Path:    strings.Join(currentPath, " > "),
			Start:   lineNum,
		}
	}

	flushSection(lineNum)

	return sections
}

// GetFrontmatterString extracts a string from frontmatter.
func (d *MarkdownDoc) GetFrontmatterString(key string) string {
	if v, ok := d.Frontmatter[key].(string); ok {
		return v
	}
	return ""
}

// GetFrontmatterStringSlice extracts a string slice from frontmatter.
// A single comma-separated string is split.
func (d *MarkdownDoc) GetFrontmatterStringSlice(key string) []string {
	switch v := d.Frontmatter[key].(type) {
	case []any:
		result := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	case string:
		var result []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				result = append(result, part)
			}
		}
		return result
	}
	return nil
}
