package feedback

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/szefer-piotr/eco-data-extractor/internal/extraction"
)

// DefaultMaxExamples bounds refinement context size when the caller
// passes no explicit cap.
const DefaultMaxExamples = extraction.DefaultMaxExamples

// Aggregator derives bounded refinement context from stored feedback.
type Aggregator struct {
	store  Store
	logger *zap.Logger
}

// NewAggregator creates an aggregator over the given store.
func NewAggregator(store Store, logger *zap.Logger) (*Aggregator, error) {
	if store == nil {
		return nil, fmt.Errorf("feedback store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{store: store, logger: logger}, nil
}

// BuildContext builds the refinement context for one category, or nil
// when no qualifying feedback exists.
//
// Only confirmed and override feedback contribute positive examples;
// rejected feedback is recorded but excluded. For each (job, row) the
// latest record by timestamp is authoritative. Examples are capped at
// maxExamples, preferring most recent, with ties broken toward records
// validating more sentences.
func (a *Aggregator) BuildContext(ctx context.Context, category string, maxExamples int) (*extraction.RefinementContext, error) {
	if maxExamples < 1 {
		maxExamples = DefaultMaxExamples
	}

	records, err := a.store.ListCategory(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("failed to read feedback for %q: %w", category, err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	latest := latestPerRow(records)

	// Most recent first; richer sentence validation wins ties.
	sort.SliceStable(latest, func(i, j int) bool {
		if !latest[i].Timestamp.Equal(latest[j].Timestamp) {
			return latest[i].Timestamp.After(latest[j].Timestamp)
		}
		return len(latest[i].ValidatedSentenceIDs) > len(latest[j].ValidatedSentenceIDs)
	})

	rc := &extraction.RefinementContext{Category: category}
	seenNotes := make(map[string]struct{})
	for _, rec := range latest {
		if rec.Status == StatusRejected {
			continue
		}
		if rec.Notes != "" {
			if _, dup := seenNotes[rec.Notes]; !dup && len(rc.Notes) < maxExamples {
				seenNotes[rec.Notes] = struct{}{}
				rc.Notes = append(rc.Notes, rec.Notes)
			}
		}
		value := rec.ExampleValue()
		if value == "" || len(rc.Examples) >= maxExamples {
			continue
		}
		rc.Examples = append(rc.Examples, extraction.ConfirmedExample{
			Value:     value,
			Sentences: rec.SentenceTexts,
			Rationale: rec.Rationale,
		})
	}

	if len(rc.Examples) == 0 && len(rc.Notes) == 0 {
		return nil, nil
	}

	a.logger.Debug("built refinement context",
		zap.String("category", category),
		zap.Int("examples", len(rc.Examples)),
		zap.Int("notes", len(rc.Notes)))
	return rc, nil
}

// BuildContexts builds contexts for several categories at once,
// omitting categories with no qualifying feedback.
func (a *Aggregator) BuildContexts(ctx context.Context, categories []extraction.CategorySchema, maxExamples int) (map[string]*extraction.RefinementContext, error) {
	out := make(map[string]*extraction.RefinementContext, len(categories))
	for _, cat := range categories {
		rc, err := a.BuildContext(ctx, cat.Name, maxExamples)
		if err != nil {
			return nil, err
		}
		if rc != nil {
			out[cat.Name] = rc
		}
	}
	return out, nil
}

// latestPerRow keeps the newest record for each (job, row) pair.
// Records arrive oldest to newest, so a later record with an equal
// timestamp still replaces an earlier one.
func latestPerRow(records []*Record) []*Record {
	type key struct{ job, row string }
	newest := make(map[key]*Record)
	var order []key
	for _, rec := range records {
		k := key{rec.JobID, rec.RowID}
		if _, seen := newest[k]; !seen {
			order = append(order, k)
		}
		if cur, seen := newest[k]; !seen || !rec.Timestamp.Before(cur.Timestamp) {
			newest[k] = rec
		}
	}
	out := make([]*Record, 0, len(order))
	for _, k := range order {
		out = append(out, newest[k])
	}
	return out
}
