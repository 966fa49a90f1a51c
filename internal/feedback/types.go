// Package feedback persists human validation decisions and folds them
// into bounded refinement context for future extraction runs.
//
// The store is an append-only log: corrections are new records, never
// mutations. "Latest wins" for a given (job, row, category) is applied
// at read time by the aggregator, not at write time.
package feedback

import (
	"errors"
	"time"
)

// Common errors for feedback operations.
var (
	ErrEmptyJobID    = errors.New("feedback job id cannot be empty")
	ErrEmptyRowID    = errors.New("feedback row id cannot be empty")
	ErrEmptyCategory = errors.New("feedback category cannot be empty")
	ErrInvalidStatus = errors.New("feedback status must be confirmed, rejected, or override")
)

// Status is the reviewer's decision for one (row, category) extraction.
type Status string

const (
	// StatusConfirmed marks the extracted value as correct.
	StatusConfirmed Status = "confirmed"

	// StatusRejected marks the extracted value as wrong. Rejected
	// feedback is recorded but contributes no positive examples.
	StatusRejected Status = "rejected"

	// StatusOverride replaces the extracted value with ManualValue.
	StatusOverride Status = "override"
)

// Record is one review event for one (row, category) pair.
//
// Value, SentenceTexts, and Rationale snapshot the reviewed evidence at
// validation time. Rows and their sentences die with their job, but
// feedback outlives it and is aggregated cross-job, so examples must be
// self-contained.
type Record struct {
	ID       string `json:"id"`
	JobID    string `json:"job_id"`
	RowID    string `json:"row_id"`
	Category string `json:"category"`
	Status   Status `json:"validation_status"`

	// ValidatedSentenceIDs are the sentence ids the reviewer marked as
	// actually supporting the value.
	ValidatedSentenceIDs []int `json:"user_validated_sentences,omitempty"`

	// Value is the extracted value under review.
	Value *string `json:"value,omitempty"`

	// ManualValue is the reviewer's replacement value (override).
	ManualValue *string `json:"manual_value,omitempty"`

	// SentenceTexts are the validated sentences' texts, captured at
	// review time.
	SentenceTexts []string `json:"validated_sentence_texts,omitempty"`

	// Rationale is the reviewed evidence's rationale, if any.
	Rationale string `json:"rationale,omitempty"`

	Notes     string    `json:"notes,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks the record's required fields.
func (r *Record) Validate() error {
	if r.JobID == "" {
		return ErrEmptyJobID
	}
	if r.RowID == "" {
		return ErrEmptyRowID
	}
	if r.Category == "" {
		return ErrEmptyCategory
	}
	switch r.Status {
	case StatusConfirmed, StatusRejected, StatusOverride:
		return nil
	default:
		return ErrInvalidStatus
	}
}

// ExampleValue returns the value this record contributes as a positive
// example: the manual override when present, otherwise the confirmed
// extraction value. Empty when the record carries neither.
func (r *Record) ExampleValue() string {
	if r.ManualValue != nil && *r.ManualValue != "" {
		return *r.ManualValue
	}
	if r.Value != nil {
		return *r.Value
	}
	return ""
}
