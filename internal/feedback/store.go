package feedback

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the append-only feedback log.
//
// Append must be atomic per record, and concurrent appends for
// different rows must never be lost or interleaved. No deduplication
// happens at write time.
type Store interface {
	// Append persists one record. Missing IDs and timestamps are
	// filled in before writing.
	Append(ctx context.Context, rec *Record) error

	// List returns all feedback for a job, oldest to newest.
	List(ctx context.Context, jobID string) ([]*Record, error)

	// ListCategory returns all feedback for a category across jobs,
	// oldest to newest. This is the aggregation read path.
	ListCategory(ctx context.Context, category string) ([]*Record, error)
}

// MemoryStore is an in-memory Store for tests and single-process use.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append adds a record to the log.
func (s *MemoryStore) Append(_ context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	stamped := *rec
	fillDefaults(&stamped)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, &stamped)
	return nil
}

// List returns the job's records oldest to newest.
func (s *MemoryStore) List(_ context.Context, jobID string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterSorted(s.records, func(r *Record) bool { return r.JobID == jobID }), nil
}

// ListCategory returns the category's records across jobs.
func (s *MemoryStore) ListCategory(_ context.Context, category string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterSorted(s.records, func(r *Record) bool { return r.Category == category }), nil
}

var _ Store = (*MemoryStore)(nil)

func fillDefaults(rec *Record) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
}

func filterSorted(records []*Record, keep func(*Record) bool) []*Record {
	var out []*Record
	for _, r := range records {
		if keep(r) {
			copied := *r
			out = append(out, &copied)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
