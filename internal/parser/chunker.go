package parser

import (
	"strings"
	"unicode"
)

// SplitConfig bounds the size of pieces produced by Split.
type SplitConfig struct {
	// MaxSize is the largest piece in characters before splitting kicks in.
	MaxSize int
	// MinSize: a trailing piece smaller than this merges into its predecessor.
	MinSize int
	// Overlap prepends up to this many trailing characters of the previous
	// piece, cut at a word boundary.
	Overlap int
}

// SplitConfigFor returns the config for a target piece size.
func SplitConfigFor(target int) SplitConfig {
	return SplitConfig{
		MaxSize: target,
		MinSize: target / 4,
	}
}

// Split breaks text into pieces of at most MaxSize characters, preferring
// paragraph boundaries, then sentence boundaries, then word boundaries.
// Blank text yields no pieces.
func Split(text string, cfg SplitConfig) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if cfg.MaxSize <= 0 || len(text) <= cfg.MaxSize {
		return []string{text}
	}

	var pieces []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			pieces = append(pieces, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if current.Len() > 0 && current.Len()+2+len(para) > cfg.MaxSize {
			flush()
		}

		if len(para) > cfg.MaxSize {
			flush()
			pieces = append(pieces, splitBySentences(para, cfg.MaxSize)...)
			continue
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	pieces = mergeTail(pieces, cfg)
	return applyOverlap(pieces, cfg.Overlap)
}

// splitBySentences packs sentences into pieces no longer than maxSize.
func splitBySentences(text string, maxSize int) []string {
	var pieces []string
	var current strings.Builder

	for _, sentence := range splitSentences(text) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}

		if current.Len() > 0 && current.Len()+1+len(sentence) > maxSize {
			pieces = append(pieces, current.String())
			current.Reset()
		}

		if len(sentence) > maxSize {
			if current.Len() > 0 {
				pieces = append(pieces, current.String())
				current.Reset()
			}
			pieces = append(pieces, splitByWords(sentence, maxSize)...)
			continue
		}

		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sentence)
	}

	if current.Len() > 0 {
		pieces = append(pieces, current.String())
	}
	return pieces
}

// splitByWords is the last resort for run-on text without sentence ends.
func splitByWords(text string, maxSize int) []string {
	var pieces []string
	var current strings.Builder

	for _, word := range strings.Fields(text) {
		if current.Len() > 0 && current.Len()+1+len(word) > maxSize {
			pieces = append(pieces, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(word)
	}
	if current.Len() > 0 {
		pieces = append(pieces, current.String())
	}
	return pieces
}

// splitSentences splits text into sentences.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)

		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		// "Dr." and initials are not sentence ends
		if i > 1 && unicode.IsUpper(runes[i-1]) {
			continue
		}
		sentences = append(sentences, current.String())
		current.Reset()
	}

	if current.Len() > 0 {
		sentences = append(sentences, current.String())
	}
	return sentences
}

// mergeTail folds a too-small last piece into the one before it when the
// result still fits.
func mergeTail(pieces []string, cfg SplitConfig) []string {
	n := len(pieces)
	if n < 2 || len(pieces[n-1]) >= cfg.MinSize {
		return pieces
	}
	merged := pieces[n-2] + "\n\n" + pieces[n-1]
	if len(merged) > cfg.MaxSize+cfg.MinSize {
		return pieces
	}
	pieces[n-2] = merged
	return pieces[:n-1]
}

// applyOverlap adds overlap between adjacent pieces.
func applyOverlap(pieces []string, overlap int) []string {
	if overlap <= 0 || len(pieces) <= 1 {
		return pieces
	}

	result := make([]string, len(pieces))
	copy(result, pieces)

	for i := 1; i < len(result); i++ {
		prev := pieces[i-1]
		if len(prev) <= overlap {
			continue
		}
		tail := prev[len(prev)-overlap:]
		idx := strings.IndexByte(tail, ' ')
		if idx < 0 {
			continue
		}
		if tail = tail[idx+1:]; tail != "" {
			result[i] = tail + " " + result[i]
		}
	}
	return result
}
