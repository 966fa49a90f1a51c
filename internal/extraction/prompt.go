package extraction

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/szefer-piotr/eco-data-extractor/internal/sentence"
)

// DefaultMaxExamples caps how many confirmed examples a refinement
// context contributes to a prompt.
const DefaultMaxExamples = 5

// Request is one fully-rendered model request. The system prompt fixes
// the output contract; the user prompt carries the categories, any
// refinement context, and the enumerated row text.
type Request struct {
	System string
	User   string
}

// systemPrompt fixes the response contract. The schema is identical
// whether or not refinement context is present, so prior feedback can
// only change extraction quality, never output shape.
const systemPrompt = `You are a research assistant specialized in evidence-grounded data extraction.
You carefully read the enumerated text and extract the requested categories.
You never invent sentence ids and you never make up data that is not supported by the text.

For every category respond with a JSON object of this exact shape:
{
  "value": "extracted value" or null,
  "sentence_ids": [ids of the sentences that support the value],
  "rationale": "one short sentence explaining the extraction",
  "confidence": 0.0 to 1.0,
  "alternatives": [optional competing values, same shape as above],
  "candidate_sentences": [only when value is null: {"sentence_id": n, "relevance": 0.0 to 1.0, "reason": "..."}]
}

Rules:
1. Cite sentences by the [n] ids shown in the enumerated text.
2. If the value is stated in the text, sentence_ids must be non-empty.
3. If you infer a value without direct support, leave sentence_ids empty.
4. If no value can be found, set value to null and rank up to 3 candidate sentences by relevance.
5. Respond ONLY with a single JSON object keyed by category name, no other text.`

// PromptBuilder renders extraction requests. It is pure and
// side-effect free; Build never fails, including on empty schema or
// sentence input.
type PromptBuilder struct {
	maxExamples int
}

// NewPromptBuilder creates a builder. maxExamples bounds how many
// confirmed examples per category are embedded; values < 1 fall back
// to DefaultMaxExamples.
func NewPromptBuilder(maxExamples int) *PromptBuilder {
	if maxExamples < 1 {
		maxExamples = DefaultMaxExamples
	}
	return &PromptBuilder{maxExamples: maxExamples}
}

// Build renders the request for one row. contexts maps category name
// to optional refinement context; nil entries and a nil map are both
// fine.
func (b *PromptBuilder) Build(categories []CategorySchema, sentences []sentence.Sentence, contexts map[string]*RefinementContext) Request {
	var u strings.Builder

	u.WriteString("Extract the following categories from the enumerated text below.\n\n")
	u.WriteString("Categories to extract:\n")
	names := make([]string, 0, len(categories))
	for _, cat := range categories {
		names = append(names, cat.Name)
		fmt.Fprintf(&u, "- %s: %s\n", cat.Name, cat.Prompt)
		if len(cat.ExpectedValues) > 0 {
			fmt.Fprintf(&u, "  Expected values: %s\n", strings.Join(cat.ExpectedValues, ", "))
		}
	}

	for _, cat := range categories {
		rc := contexts[cat.Name]
		if rc == nil || (len(rc.Examples) == 0 && len(rc.Notes) == 0) {
			continue
		}
		fmt.Fprintf(&u, "\nPreviously confirmed extractions for %q (follow their style):\n", cat.Name)
		examples := rc.Examples
		if len(examples) > b.maxExamples {
			examples = examples[:b.maxExamples]
		}
		for i, ex := range examples {
			fmt.Fprintf(&u, "%d. value: %q", i+1, ex.Value)
			if len(ex.Sentences) > 0 {
				fmt.Fprintf(&u, "; supporting text: %q", strings.Join(ex.Sentences, " "))
			}
			if ex.Rationale != "" {
				fmt.Fprintf(&u, "; rationale: %s", ex.Rationale)
			}
			u.WriteByte('\n')
		}
		for _, note := range rc.Notes {
			fmt.Fprintf(&u, "Reviewer guidance: %s\n", note)
		}
	}

	keys, _ := json.Marshal(names)
	fmt.Fprintf(&u, "\nReturn ONLY a valid JSON object with these exact keys: %s\n", keys)

	u.WriteString("\n--- ENUMERATED TEXT FOR REFERENCE ---\n")
	u.WriteString(sentence.Format(sentences))
	u.WriteString("\n--- END OF TEXT ---\n")

	return Request{System: systemPrompt, User: u.String()}
}
