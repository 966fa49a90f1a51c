// Package job tracks extraction runs through their status lifecycle
// and drives the per-row pipeline across a bounded worker pool.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/szefer-piotr/eco-data-extractor/internal/extraction"
)

// Common errors for job operations.
var (
	ErrJobNotFound      = errors.New("job not found")
	ErrJobNotCancelable = errors.New("job is already finished")
)

// Status is the job lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Row is one unit of input text, supplied by the upload layer.
type Row struct {
	ID   string `json:"row_id"`
	Text string `json:"text"`
}

// SelectRows returns the subset of rows whose ids are listed, in input
// order. Retrying selected rows is modeled as a fresh job over such a
// subset; a finished job's results are never mutated in place.
func SelectRows(rows []Row, ids []string) []Row {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var out []Row
	for _, row := range rows {
		if _, ok := want[row.ID]; ok {
			out = append(out, row)
		}
	}
	return out
}

// Snapshot is the point-in-time job state polled by callers. The core
// exposes only the snapshot, not the polling transport.
type Snapshot struct {
	JobID         string    `json:"job_id"`
	Status        Status    `json:"status"`
	TotalRows     int       `json:"total_rows"`
	ProcessedRows int       `json:"processed_rows"`
	ErroredRows   int       `json:"errored_rows"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Err           string    `json:"error,omitempty"`
}

// Job is one extraction run over a batch of rows. The processed-rows
// counter and status are the only mutable state shared across row
// workers; both are guarded here. RowResults are write-once per row id.
type Job struct {
	id        string
	createdAt time.Time

	mu              sync.RWMutex
	status          Status
	totalRows       int
	processedRows   int
	erroredRows     int
	updatedAt       time.Time
	err             string
	cancelRequested bool
	results         map[string]*extraction.RowResult
}

func newJob(totalRows int) *Job {
	now := time.Now().UTC()
	return &Job{
		id:        uuid.NewString(),
		createdAt: now,
		status:    StatusPending,
		totalRows: totalRows,
		updatedAt: now,
		results:   make(map[string]*extraction.RowResult, totalRows),
	}
}

// ID returns the job id.
func (j *Job) ID() string {
	return j.id
}

// Snapshot returns the current job state.
func (j *Job) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return Snapshot{
		JobID:         j.id,
		Status:        j.status,
		TotalRows:     j.totalRows,
		ProcessedRows: j.processedRows,
		ErroredRows:   j.erroredRows,
		CreatedAt:     j.createdAt,
		UpdatedAt:     j.updatedAt,
		Err:           j.err,
	}
}

// Result returns the finished result for one row id.
func (j *Job) Result(rowID string) (*extraction.RowResult, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	res, ok := j.results[rowID]
	return res, ok
}

// Results returns all finished row results keyed by row id. Rows
// complete out of submission order, so consumers must key by row id.
func (j *Job) Results() map[string]*extraction.RowResult {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make(map[string]*extraction.RowResult, len(j.results))
	for id, res := range j.results {
		out[id] = res
	}
	return out
}

// RequestCancel asks the job to stop: no new rows start, in-flight
// rows finish. Returns ErrJobNotCancelable for finished jobs.
func (j *Job) RequestCancel() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return ErrJobNotCancelable
	}
	j.cancelRequested = true
	j.updatedAt = time.Now().UTC()
	return nil
}

// CancelRequested reports whether cancellation was asked for. Workers
// check this between rows, never mid-row.
func (j *Job) CancelRequested() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.cancelRequested
}

func (j *Job) markProcessing() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = StatusProcessing
	j.updatedAt = time.Now().UTC()
}

// recordResult stores a finished row and advances the counter. Results
// are write-once: a duplicate row id is ignored rather than counted
// twice, keeping processedRows monotonic and bounded by totalRows.
func (j *Job) recordResult(res *extraction.RowResult) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, dup := j.results[res.RowID]; dup {
		return
	}
	j.results[res.RowID] = res
	j.processedRows++
	if res.Err != "" {
		j.erroredRows++
	}
	j.updatedAt = time.Now().UTC()
}

func (j *Job) finish(status Status, errMsg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return
	}
	j.status = status
	j.err = errMsg
	j.updatedAt = time.Now().UTC()
}

// Manager tracks jobs in memory for status polling and cancellation.
type Manager struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{jobs: make(map[string]*Job)}
}

// Create registers a new pending job for the given row count.
func (m *Manager) Create(totalRows int) *Job {
	j := newJob(totalRows)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.id] = j
	return j
}

// Get returns a job by id.
func (m *Manager) Get(id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return j, nil
}

// Cancel requests cancellation of a job by id.
func (m *Manager) Cancel(id string) error {
	j, err := m.Get(id)
	if err != nil {
		return err
	}
	return j.RequestCancel()
}
