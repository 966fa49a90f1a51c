package feedback

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strptr(s string) *string { return &s }

func validRecord(jobID, rowID string) *Record {
	return &Record{
		JobID:                jobID,
		RowID:                rowID,
		Category:             "habitat",
		Status:               StatusConfirmed,
		ValidatedSentenceIDs: []int{1},
		Value:                strptr("forest"),
	}
}

func TestRecordValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Record)
		wantErr error
	}{
		{name: "valid", mutate: func(*Record) {}, wantErr: nil},
		{name: "missing job id", mutate: func(r *Record) { r.JobID = "" }, wantErr: ErrEmptyJobID},
		{name: "missing row id", mutate: func(r *Record) { r.RowID = "" }, wantErr: ErrEmptyRowID},
		{name: "missing category", mutate: func(r *Record) { r.Category = "" }, wantErr: ErrEmptyCategory},
		{name: "bad status", mutate: func(r *Record) { r.Status = "approved" }, wantErr: ErrInvalidStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRecord("job-1", "row-1")
			tt.mutate(rec)
			err := rec.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestMemoryStoreAppendList(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first := validRecord("job-1", "row-1")
	first.Timestamp = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	second := validRecord("job-1", "row-2")
	second.Timestamp = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.Append(ctx, first))
	require.NoError(t, store.Append(ctx, second))
	require.NoError(t, store.Append(ctx, validRecord("job-2", "row-1")))

	got, err := store.List(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "row-2", got[0].RowID, "list must be oldest to newest")
	assert.Equal(t, "row-1", got[1].RowID)
	assert.NotEmpty(t, got[0].ID, "ids are filled on append")

	byCat, err := store.ListCategory(ctx, "habitat")
	require.NoError(t, err)
	assert.Len(t, byCat, 3)
}

func TestMemoryStoreRejectsInvalid(t *testing.T) {
	store := NewMemoryStore()
	rec := validRecord("job-1", "row-1")
	rec.Status = "nope"
	assert.ErrorIs(t, store.Append(context.Background(), rec), ErrInvalidStatus)
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)

	rec := validRecord("job-1", "row-1")
	rec.ManualValue = strptr("grassland")
	rec.Notes = "check the methods section"
	require.NoError(t, store.Append(ctx, rec))
	require.NoError(t, store.Append(ctx, validRecord("job-1", "row-2")))

	got, err := store.List(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "grassland", *got[0].ManualValue)
	assert.Equal(t, "check the methods section", got[0].Notes)
	assert.False(t, got[0].Timestamp.IsZero())

	missing, err := store.List(ctx, "job-unknown")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestFileStoreListCategoryAcrossJobs(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)

	require.NoError(t, store.Append(ctx, validRecord("job-1", "row-1")))
	require.NoError(t, store.Append(ctx, validRecord("job-2", "row-9")))
	other := validRecord("job-2", "row-9")
	other.Category = "species"
	require.NoError(t, store.Append(ctx, other))

	got, err := store.ListCategory(ctx, "habitat")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestFileStoreSkipsMalformedLines(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	require.NoError(t, store.Append(ctx, validRecord("job-1", "row-1")))

	// Corrupt the log with a truncated line, then append another record.
	path := filepath.Join(dir, "job-1"+feedbackFileSuffix)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString(`{"job_id": "job-1", "row_` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, store.Append(ctx, validRecord("job-1", "row-2")))

	got, err := store.List(ctx, "job-1")
	require.NoError(t, err)
	assert.Len(t, got, 2, "malformed line is skipped, valid records survive")
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)

	rec := validRecord("../evil", "row-1")
	assert.Error(t, store.Append(context.Background(), rec))

	_, err = store.List(context.Background(), "a/b")
	assert.Error(t, err)
}

func TestFileStoreConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)

	const writers = 8
	const perWriter = 20

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				rec := validRecord("job-1", fmt.Sprintf("row-%d-%d", w, i))
				if err := store.Append(ctx, rec); err != nil {
					t.Errorf("Append failed: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	got, err := store.List(ctx, "job-1")
	require.NoError(t, err)
	assert.Len(t, got, writers*perWriter, "no concurrent append may be lost")
}
