package extraction

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/szefer-piotr/eco-data-extractor/internal/sentence"
)

// Default confidence assigned when the model omits an explicit score.
// Grounded answers default higher than inferred ones; explicit scores
// always take precedence.
const (
	DefaultGroundedConfidence = 0.9
	DefaultInferredConfidence = 0.5

	// DefaultUnexpectedValuePenalty scales confidence down when a value
	// falls outside the schema's expected-value set.
	DefaultUnexpectedValuePenalty = 0.5
)

// ParserOptions tunes the evidence mapper. All fields are optional;
// zero values fall back to the package defaults.
type ParserOptions struct {
	GroundedDefault        float64
	InferredDefault        float64
	UnexpectedValuePenalty float64
}

// DefaultParserOptions returns the default tuning.
func DefaultParserOptions() ParserOptions {
	return ParserOptions{
		GroundedDefault:        DefaultGroundedConfidence,
		InferredDefault:        DefaultInferredConfidence,
		UnexpectedValuePenalty: DefaultUnexpectedValuePenalty,
	}
}

func (o ParserOptions) withDefaults() ParserOptions {
	if o.GroundedDefault <= 0 || o.GroundedDefault > 1 {
		o.GroundedDefault = DefaultGroundedConfidence
	}
	if o.InferredDefault <= 0 || o.InferredDefault > 1 {
		o.InferredDefault = DefaultInferredConfidence
	}
	if o.UnexpectedValuePenalty <= 0 || o.UnexpectedValuePenalty > 1 {
		o.UnexpectedValuePenalty = DefaultUnexpectedValuePenalty
	}
	return o
}

// Parser maps raw model output onto typed category extractions.
//
// Each category is parsed in isolation: a malformed section for one
// category yields an empty evidence list for that category only and
// never aborts the row or its sibling categories.
type Parser struct {
	opts   ParserOptions
	logger *zap.Logger
}

// NewParser creates a parser.
func NewParser(opts ParserOptions, logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{opts: opts.withDefaults(), logger: logger}
}

// Parse converts a raw model response into per-category extractions.
// The returned map has an entry for every category in the schema; a
// category the model skipped or mangled maps to an empty extraction.
func (p *Parser) Parse(raw string, sentences []sentence.Sentence, categories []CategorySchema) map[string]CategoryExtraction {
	out := make(map[string]CategoryExtraction, len(categories))
	payloads := p.decodeTopLevel(raw)

	for _, cat := range categories {
		payload, ok := payloads[cat.Name]
		if !ok {
			p.logger.Debug("category missing from model response",
				zap.String("category", cat.Name))
			out[cat.Name] = CategoryExtraction{Evidence: []Evidence{}}
			continue
		}
		out[cat.Name] = p.parseCategory(payload, cat, sentences)
	}
	return out
}

// decodeTopLevel extracts the category→payload map from raw model
// output, stripping markdown fences and falling back to the outermost
// JSON object when the response carries surrounding commentary.
func (p *Parser) decodeTopLevel(raw string) map[string]json.RawMessage {
	content := strings.TrimSpace(raw)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var payloads map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &payloads); err == nil {
		return payloads
	}

	// Recovery: take the substring between the first '{' and the last
	// '}' in case the model wrapped the object in prose.
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(content[start:end+1]), &payloads); err == nil {
			return payloads
		}
	}

	p.logger.Warn("model response is not a JSON object",
		zap.String("head", head(content, 120)))
	return nil
}

// parsedKind is the closed variant a model answer normalizes into.
type parsedKind int

const (
	parsedGrounded parsedKind = iota
	parsedInferred
	parsedNotFound
)

// parsedEntry is the normalized form of one answer entry, after id
// validation but before confidence defaulting.
type parsedEntry struct {
	kind          parsedKind
	value         string
	refs          []int
	rationale     string
	confidence    float64
	hasConfidence bool
}

// parseCategory normalizes one category's payload. The payload may be
// a full object, a bare value, or a list of alternatives; anything
// undecodable degrades to an empty extraction.
func (p *Parser) parseCategory(payload json.RawMessage, cat CategorySchema, sentences []sentence.Sentence) CategoryExtraction {
	nodes, candidates, err := splitPayload(payload)
	if err != nil {
		p.logger.Warn("malformed category payload",
			zap.String("category", cat.Name), zap.Error(err))
		return CategoryExtraction{Evidence: []Evidence{}}
	}

	evidence := make([]Evidence, 0, len(nodes))
	for _, node := range nodes {
		entry, ok := p.normalizeEntry(node, sentences)
		if !ok {
			continue
		}
		if entry.kind == parsedNotFound {
			continue
		}
		evidence = append(evidence, p.toEvidence(entry, cat))
	}

	sort.SliceStable(evidence, func(i, j int) bool {
		return evidence[i].Confidence > evidence[j].Confidence
	})

	ce := CategoryExtraction{Evidence: evidence}
	if len(evidence) == 0 {
		ce.Candidates = p.parseCandidates(candidates, sentences)
	}
	return ce
}

// splitPayload flattens a payload into its answer entries (primary
// plus alternatives) and any candidate-sentence suggestions.
func splitPayload(payload json.RawMessage) ([]map[string]json.RawMessage, []json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" || trimmed == "null" {
		return nil, nil, nil
	}

	switch trimmed[0] {
	case '{':
		var node map[string]json.RawMessage
		if err := json.Unmarshal(payload, &node); err != nil {
			return nil, nil, err
		}
		nodes := []map[string]json.RawMessage{node}
		for _, alt := range rawList(node["alternatives"]) {
			var altNode map[string]json.RawMessage
			if err := json.Unmarshal(alt, &altNode); err != nil {
				continue
			}
			nodes = append(nodes, altNode)
		}
		return nodes, rawList(node["candidate_sentences"]), nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(payload, &items); err != nil {
			return nil, nil, err
		}
		var nodes []map[string]json.RawMessage
		for _, item := range items {
			var node map[string]json.RawMessage
			if err := json.Unmarshal(item, &node); err != nil {
				continue
			}
			nodes = append(nodes, node)
		}
		return nodes, nil, nil
	default:
		// Bare scalar: the model answered with just the value.
		value := json.RawMessage(payload)
		return []map[string]json.RawMessage{{"value": value}}, nil, nil
	}
}

// normalizeEntry maps one answer entry into the closed variant,
// dropping out-of-range citations and recomputing inferred status.
func (p *Parser) normalizeEntry(node map[string]json.RawMessage, sentences []sentence.Sentence) (parsedEntry, bool) {
	var entry parsedEntry

	value, hasValue := asString(node["value"])
	entry.rationale = firstString(node, "rationale", "reason")
	entry.confidence, entry.hasConfidence = asFloat(node["confidence"])

	refs := asIntList(firstRaw(node, "sentence_ids", "sentence_refs"))
	valid, dropped := partitionRefs(refs, sentences)
	entry.refs = valid
	if len(dropped) > 0 {
		entry.rationale = appendCaveat(entry.rationale,
			fmt.Sprintf("ignored citations outside text: %s", joinInts(dropped)))
	}

	// A null or empty value is an explicit "nothing found", not an
	// inferred empty extraction.
	if !hasValue || value == "" {
		entry.kind = parsedNotFound
		return entry, true
	}
	entry.value = value
	if len(valid) == 0 {
		entry.kind = parsedInferred
	} else {
		entry.kind = parsedGrounded
	}
	return entry, true
}

// toEvidence applies confidence defaulting, clamping, and the
// expected-value check to a normalized entry.
func (p *Parser) toEvidence(entry parsedEntry, cat CategorySchema) Evidence {
	confidence := entry.confidence
	if !entry.hasConfidence {
		if entry.kind == parsedInferred {
			confidence = p.opts.InferredDefault
		} else {
			confidence = p.opts.GroundedDefault
		}
	}
	confidence = clamp01(confidence)

	value := entry.value
	rationale := entry.rationale
	if len(cat.ExpectedValues) > 0 && !containsString(cat.ExpectedValues, value) {
		confidence *= p.opts.UnexpectedValuePenalty
		rationale = appendCaveat(rationale,
			fmt.Sprintf("value %q is outside the expected set", value))
	}

	return Evidence{
		Value:        &value,
		SentenceRefs: entry.refs,
		Rationale:    rationale,
		IsInferred:   entry.kind == parsedInferred,
		Confidence:   confidence,
	}
}

// parseCandidates normalizes candidate-sentence suggestions, clamping
// relevance and dropping out-of-range ids the same way citation refs
// are dropped.
func (p *Parser) parseCandidates(items []json.RawMessage, sentences []sentence.Sentence) []CandidateSentence {
	var out []CandidateSentence
	for _, item := range items {
		var node map[string]json.RawMessage
		if err := json.Unmarshal(item, &node); err != nil {
			continue
		}
		ids := asIntList(node["sentence_id"])
		if len(ids) != 1 {
			continue
		}
		if !sentence.ValidIDs(sentences, ids) {
			continue
		}
		relevance, ok := asFloat(firstRaw(node, "relevance", "relevance_score"))
		if !ok {
			relevance = 0.5
		}
		out = append(out, CandidateSentence{
			SentenceID: ids[0],
			Relevance:  clamp01(relevance),
			Reason:     firstString(node, "reason", "rationale"),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Relevance > out[j].Relevance
	})
	return out
}

// Tolerant field decoding helpers. Model output routinely swaps types
// (quoted numbers, numeric values, singular ids), so every accessor
// accepts the common deviations.

func rawList(raw json.RawMessage) []json.RawMessage {
	if raw == nil {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	return items
}

func firstRaw(node map[string]json.RawMessage, keys ...string) json.RawMessage {
	for _, key := range keys {
		if raw, ok := node[key]; ok {
			return raw
		}
	}
	return nil
}

func firstString(node map[string]json.RawMessage, keys ...string) string {
	s, _ := asString(firstRaw(node, keys...))
	return s
}

// isNull reports whether the raw message is the JSON null literal.
// Unmarshal treats null as a no-op on scalar targets, so the accessors
// must check for it explicitly.
func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

// asString renders a scalar as its string form. Returns false for
// null, absent, or non-scalar values.
func asString(raw json.RawMessage) (string, bool) {
	if raw == nil || isNull(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64), true
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b), true
	}
	return "", false
}

// asFloat decodes a number or a quoted number.
func asFloat(raw json.RawMessage) (float64, bool) {
	if raw == nil || isNull(raw) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

// asIntList decodes an id list, accepting a bare id, numbers, and
// quoted numbers. Non-numeric elements are skipped.
func asIntList(raw json.RawMessage) []int {
	if raw == nil {
		return nil
	}
	items := rawList(raw)
	if items == nil {
		// Singular id instead of a list.
		if f, ok := asFloat(raw); ok {
			return []int{int(f)}
		}
		return nil
	}
	var out []int
	for _, item := range items {
		if f, ok := asFloat(item); ok {
			out = append(out, int(f))
		}
	}
	return out
}

func partitionRefs(refs []int, sentences []sentence.Sentence) (valid, dropped []int) {
	for _, id := range refs {
		if sentence.ValidIDs(sentences, []int{id}) {
			valid = append(valid, id)
		} else {
			dropped = append(dropped, id)
		}
	}
	return valid, dropped
}

func appendCaveat(rationale, caveat string) string {
	if rationale == "" {
		return caveat
	}
	return rationale + " (" + caveat + ")"
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}

func joinInts(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ", ")
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
