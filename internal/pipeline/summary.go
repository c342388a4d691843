package pipeline

import (
	"cmp"
	"slices"
	"strings"
	"unicode"

	"github.com/raphaelgruber/mmrag/internal/models"
)

const (
	maxTimelineEntries = 10
	maxKeyPoints       = 5
	maxTopics          = 5
	maxTitleLen        = 60
)

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`the and for are but not you all any can had her was one our out day get has him his how man new now
		old see two way who boy did its let put say she too use that with have this will your from they know want been good much
		some time very when come here just like long make many more only over such take than them well were what into also then
		there these their about would which could other after first where those while being because should through speaker
		each does doing done going gonna okay yeah really thing things lets here's it's that's don't`) {
		stopWords[w] = struct{}{}
	}
}

// FrequencySummary builds an extractive summary by scoring sentences on the
// frequency of their content words. It needs no model and never fails.
func FrequencySummary(in SummaryInput) *models.Summary {
	var texts []string
	for _, c := range in.Chunks {
		texts = append(texts, stripSpeaker(c.Text))
	}
	sentences := splitSentences(strings.Join(texts, "\n"))

	freq := map[string]int{}
	for _, s := range sentences {
		for _, w := range contentWords(s) {
			freq[w]++
		}
	}

	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, 0, len(sentences))
	for i, s := range sentences {
		words := contentWords(s)
		if len(words) == 0 {
			continue
		}
		total := 0
		for _, w := range words {
			total += freq[w]
		}
		ranked = append(ranked, scored{i, float64(total) / float64(len(words))})
	}
	slices.SortStableFunc(ranked, func(a, b scored) int { return cmp.Compare(b.score, a.score) })

	pick := func(n int) []string {
		top := ranked[:min(n, len(ranked))]
		idx := make([]int, len(top))
		for i, r := range top {
			idx[i] = r.idx
		}
		slices.Sort(idx)
		out := make([]string, len(idx))
		for i, j := range idx {
			out[i] = sentences[j]
		}
		return out
	}

	keyPoints := pick(maxKeyPoints)
	detailed := strings.Join(pick(8), " ")
	if in.Options.MaxLength > 0 && len(detailed) > in.Options.MaxLength {
		detailed = truncate(detailed, in.Options.MaxLength)
	}

	title := in.Title
	if title == "" && len(sentences) > 0 {
		title = truncate(sentences[0], maxTitleLen)
	}

	return &models.Summary{
		Title:            title,
		ExecutiveSummary: strings.Join(pick(2), " "),
		DetailedSummary:  detailed,
		KeyPoints:        keyPoints,
		Topics:           topWords(freq, maxTopics),
		Metadata:         map[string]any{"generator": "extractive"},
	}
}

// BuildTimeline returns up to limit entries for the timestamped chunks,
// sampled evenly and in order. Repeated timestamps keep the first chunk.
func BuildTimeline(chunks []models.CanonicalChunk, limit int) []models.TimelineEntry {
	var entries []models.TimelineEntry
	seen := map[string]bool{}
	for _, c := range chunks {
		ts := c.Source.Timestamp
		if ts == "" || seen[ts] {
			continue
		}
		seen[ts] = true
		text := strings.TrimSpace(stripSpeaker(c.Text))
		entries = append(entries, models.TimelineEntry{
			Timestamp:   ts,
			Title:       firstWords(text, 6),
			Description: truncate(text, 200),
		})
	}
	slices.SortStableFunc(entries, func(a, b models.TimelineEntry) int {
		return cmp.Compare(timestampSeconds(a.Timestamp), timestampSeconds(b.Timestamp))
	})

	if limit <= 0 || len(entries) <= limit {
		return entries
	}
	sampled := make([]models.TimelineEntry, 0, limit)
	step := float64(len(entries)) / float64(limit)
	for i := range limit {
		sampled = append(sampled, entries[int(float64(i)*step)])
	}
	return sampled
}

func timestampSeconds(ts string) int {
	m, s, ok := strings.Cut(ts, ":")
	if !ok {
		return 0
	}
	return atoi(m)*60 + atoi(s)
}

func atoi(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return n
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// stripSpeaker removes a leading "[Speaker N]: " label.
func stripSpeaker(text string) string {
	if !strings.HasPrefix(text, "[") {
		return text
	}
	if _, rest, ok := strings.Cut(text, "]: "); ok {
		return rest
	}
	return text
}

func splitSentences(text string) []string {
	var out []string
	var b strings.Builder
	flush := func() {
		if s := strings.TrimSpace(b.String()); s != "" {
			out = append(out, s)
		}
		b.Reset()
	}

	runes := []rune(text)
	for i, r := range runes {
		if r == '\n' {
			flush()
			continue
		}
		b.WriteRune(r)
		if (r == '.' || r == '!' || r == '?') && (i+1 == len(runes) || unicode.IsSpace(runes[i+1])) {
			flush()
		}
	}
	flush()
	return out
}

func contentWords(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	words := fields[:0]
	for _, w := range fields {
		w = strings.Trim(w, "'")
		if len([]rune(w)) < 3 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		words = append(words, w)
	}
	return words
}

func topWords(freq map[string]int, n int) []string {
	words := make([]string, 0, len(freq))
	for w := range freq {
		words = append(words, w)
	}
	slices.SortFunc(words, func(a, b string) int {
		if c := cmp.Compare(freq[b], freq[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return words[:min(n, len(words))]
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ") + "..."
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return strings.TrimSpace(string(r[:n-3])) + "..."
}
