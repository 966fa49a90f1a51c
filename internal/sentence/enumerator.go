// Package sentence splits row text into a stable, addressable sequence
// of enumerated sentences. Sentence ids are the coordinate system the
// rest of the extraction pipeline uses: prompts render sentences with
// their ids, and the model cites ids back.
//
// Splitting is deterministic and deliberately conservative. A missed
// split is recoverable (the model cites a longer span); a wrong split
// can silently drop supporting context.
package sentence

import (
	"fmt"
	"strings"
	"unicode"
)

// Sentence is one addressable unit of a row's text. IDs are contiguous
// 1..N in document order and are only meaningful within their row.
type Sentence struct {
	ID   int    `json:"sentence_id"`
	Text string `json:"sentence_text"`
}

// abbreviations never terminate a sentence, even when followed by
// whitespace and a capital letter.
var abbreviations = []string{
	"Dr.", "Mr.", "Mrs.", "Ms.", "Prof.", "Sr.", "Jr.", "St.",
	"Inc.", "Ltd.", "Co.", "Corp.",
	"vs.", "etc.", "e.g.", "i.e.", "et al.", "cf.",
	"Fig.", "No.", "Vol.", "approx.",
}

// Enumerate splits text into sentences and assigns contiguous ids
// starting at 1. Identical input always yields identical output.
//
// A split happens at terminal punctuation (., !, ?) followed by
// whitespace and either a capital letter or end-of-text, unless the
// punctuation closes a known abbreviation or a single-letter initial.
// Empty or blank text yields nil; text with no terminal punctuation
// yields a single sentence. Blank fragments are dropped without
// leaving id gaps.
func Enumerate(text string) []Sentence {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	runes := []rune(trimmed)
	var fragments []string
	start := 0

	for i := 0; i < len(runes); i++ {
		if !isTerminal(runes[i]) {
			continue
		}
		if !boundaryAfter(runes, i) {
			continue
		}
		if endsWithAbbreviation(runes[start : i+1]) {
			continue
		}
		fragments = append(fragments, string(runes[start:i+1]))
		start = i + 1
	}
	if start < len(runes) {
		fragments = append(fragments, string(runes[start:]))
	}

	sentences := make([]Sentence, 0, len(fragments))
	for _, frag := range fragments {
		frag = strings.TrimSpace(frag)
		if frag == "" {
			continue
		}
		sentences = append(sentences, Sentence{ID: len(sentences) + 1, Text: frag})
	}
	return sentences
}

// Format renders sentences as the enumerated reference block embedded
// in extraction prompts, one "[id] text" line per sentence.
func Format(sentences []Sentence) string {
	if len(sentences) == 0 {
		return ""
	}
	var b strings.Builder
	for i, s := range sentences {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%d] %s", s.ID, s.Text)
	}
	return b.String()
}

// ByID returns the sentence with the given id, or false when the id is
// outside the row's range.
func ByID(sentences []Sentence, id int) (Sentence, bool) {
	if id < 1 || id > len(sentences) {
		return Sentence{}, false
	}
	return sentences[id-1], true
}

// ValidIDs reports whether every id is within 1..len(sentences).
func ValidIDs(sentences []Sentence, ids []int) bool {
	for _, id := range ids {
		if id < 1 || id > len(sentences) {
			return false
		}
	}
	return true
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// boundaryAfter reports whether the rune at i is followed by whitespace
// and a capital letter, or by end-of-text.
func boundaryAfter(runes []rune, i int) bool {
	j := i + 1
	if j == len(runes) {
		return true
	}
	if !unicode.IsSpace(runes[j]) {
		return false
	}
	for j < len(runes) && unicode.IsSpace(runes[j]) {
		j++
	}
	if j == len(runes) {
		return true
	}
	return unicode.IsUpper(runes[j])
}

// endsWithAbbreviation reports whether the fragment ends in a known
// abbreviation or a single-letter initial such as "J.".
func endsWithAbbreviation(frag []rune) bool {
	s := string(frag)
	for _, abbr := range abbreviations {
		if !strings.HasSuffix(s, abbr) {
			continue
		}
		// The abbreviation must be a whole token, not a word suffix.
		rest := s[:len(s)-len(abbr)]
		if rest == "" || strings.HasSuffix(rest, " ") || strings.HasSuffix(rest, "(") {
			return true
		}
	}
	// Single uppercase initial, e.g. the "J." in "J. Smith".
	r := []rune(s)
	if len(r) >= 2 && r[len(r)-1] == '.' && unicode.IsUpper(r[len(r)-2]) {
		if len(r) == 2 || unicode.IsSpace(r[len(r)-3]) {
			return true
		}
	}
	return false
}
