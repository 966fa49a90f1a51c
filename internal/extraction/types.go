package extraction

import (
	"errors"
	"sort"

	"github.com/szefer-piotr/eco-data-extractor/internal/sentence"
)

// Common errors for extraction operations.
var (
	ErrEmptyCategoryName = errors.New("category name cannot be empty")
	ErrDuplicateCategory = errors.New("duplicate category name")
)

// CategorySchema describes one user-defined extraction target. It is
// caller-supplied and read-only to the pipeline.
type CategorySchema struct {
	// Name uniquely identifies the category (e.g. "habitat", "species").
	Name string `json:"name"`

	// Prompt is the category's extraction instruction. A "{text}"
	// placeholder, when present, marks where the row text belongs;
	// otherwise the instruction is used as-is.
	Prompt string `json:"prompt"`

	// ExpectedValues optionally constrains the value set. Values outside
	// the set are kept but demoted, never discarded.
	ExpectedValues []string `json:"expected_values,omitempty"`
}

// ValidateSchemas checks that category names are non-empty and unique.
func ValidateSchemas(categories []CategorySchema) error {
	seen := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		if c.Name == "" {
			return ErrEmptyCategoryName
		}
		if _, dup := seen[c.Name]; dup {
			return ErrDuplicateCategory
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}

// Evidence is one candidate extracted value with its grounding.
//
// Invariants maintained by the parser:
//   - Confidence is within [0, 1].
//   - SentenceRefs only contain ids valid for the row.
//   - IsInferred is false only when SentenceRefs is non-empty.
type Evidence struct {
	// Value is the extracted value, or nil when the model found none.
	Value *string `json:"value"`

	// SentenceRefs are the ids of sentences supporting the value.
	SentenceRefs []int `json:"sentence_refs"`

	// Rationale is the model's short justification, possibly annotated
	// with parser caveats (e.g. dropped out-of-range citations).
	Rationale string `json:"rationale,omitempty"`

	// IsInferred is true when the value has no direct sentence citation.
	IsInferred bool `json:"is_inferred"`

	// Confidence is the model's score, clamped to [0, 1].
	Confidence float64 `json:"confidence"`
}

// CandidateSentence is a model-suggested sentence possibly relevant to
// a category for which no confident value was found. It never carries
// a value.
type CandidateSentence struct {
	SentenceID int     `json:"sentence_id"`
	Relevance  float64 `json:"relevance_score"`
	Reason     string  `json:"reason,omitempty"`
}

// CategoryExtraction is everything parsed for one (row, category) pair.
// Evidence is ordered by confidence descending; the first entry is
// primary. Candidates are only populated when Evidence is empty.
type CategoryExtraction struct {
	Evidence   []Evidence          `json:"evidence"`
	Candidates []CandidateSentence `json:"candidate_sentences,omitempty"`
}

// Primary returns the highest-confidence value, or nil when the
// category produced no evidence.
func (ce CategoryExtraction) Primary() *string {
	if len(ce.Evidence) == 0 {
		return nil
	}
	return ce.Evidence[0].Value
}

// RowResult is the finished output for one row. Categories fail
// independently: a malformed category shows an empty extraction while
// its siblings keep their evidence. Err is set only for row-level
// failures (enumeration or exhausted provider retries).
type RowResult struct {
	RowID      string                        `json:"row_id"`
	Sentences  []sentence.Sentence           `json:"sentences"`
	Categories map[string]CategoryExtraction `json:"categories"`
	Err        string                        `json:"error,omitempty"`
}

// PrimaryValue returns the primary evidence value for a category, the
// default shape consumed by export collaborators.
func (r *RowResult) PrimaryValue(category string) *string {
	return r.Categories[category].Primary()
}

// AllValues returns every distinct evidence value for a category in
// confidence order, for exports that surface alternatives.
func (r *RowResult) AllValues(category string) []string {
	ce := r.Categories[category]
	var out []string
	seen := make(map[string]struct{})
	for _, ev := range ce.Evidence {
		if ev.Value == nil {
			continue
		}
		if _, dup := seen[*ev.Value]; dup {
			continue
		}
		seen[*ev.Value] = struct{}{}
		out = append(out, *ev.Value)
	}
	return out
}

// CitedSentences resolves every sentence id cited by a category's
// evidence to its text, in id order.
func (r *RowResult) CitedSentences(category string) []sentence.Sentence {
	ce := r.Categories[category]
	ids := make(map[int]struct{})
	for _, ev := range ce.Evidence {
		for _, ref := range ev.SentenceRefs {
			ids[ref] = struct{}{}
		}
	}
	out := make([]sentence.Sentence, 0, len(ids))
	for id := range ids {
		if s, ok := sentence.ByID(r.Sentences, id); ok {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RefinementContext is bounded guidance for one category, derived from
// past confirmed validation feedback and embedded into future prompts.
type RefinementContext struct {
	// Category names the schema this context applies to.
	Category string `json:"category"`

	// Examples are prior confirmed extractions, most recent first.
	Examples []ConfirmedExample `json:"examples"`

	// Notes are reviewer guidance notes aggregated across feedback.
	Notes []string `json:"notes,omitempty"`
}

// ConfirmedExample is one human-confirmed extraction used as guidance.
type ConfirmedExample struct {
	Value     string   `json:"value"`
	Sentences []string `json:"sentences,omitempty"`
	Rationale string   `json:"rationale,omitempty"`
}
