package feedback

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const feedbackFileSuffix = "_feedback.jsonl"

// FileStore persists feedback as one JSONL file per job under a root
// directory. Each record is a single line written in one O_APPEND
// write, so records are all-or-nothing and concurrent appends from
// different review sessions never corrupt each other.
type FileStore struct {
	root   string
	logger *zap.Logger

	mu sync.Mutex
}

// NewFileStore creates the store, ensuring the root directory exists.
func NewFileStore(root string, logger *zap.Logger) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("feedback store root cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create feedback dir: %w", err)
	}
	return &FileStore{root: root, logger: logger}, nil
}

// Append writes one record to the job's log file.
func (s *FileStore) Append(_ context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := validatePathComponent(rec.JobID); err != nil {
		return err
	}
	stamped := *rec
	fillDefaults(&stamped)

	line, err := json.Marshal(&stamped)
	if err != nil {
		return fmt.Errorf("failed to marshal feedback: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.jobPath(rec.JobID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open feedback log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("failed to append feedback: %w", err)
	}
	return f.Sync()
}

// List returns the job's records, oldest to newest. Malformed lines
// are skipped with a warning rather than failing the read.
func (s *FileStore) List(_ context.Context, jobID string) ([]*Record, error) {
	if err := validatePathComponent(jobID); err != nil {
		return nil, err
	}
	records, err := s.readFile(s.jobPath(jobID))
	if err != nil {
		return nil, err
	}
	return filterSorted(records, func(*Record) bool { return true }), nil
}

// ListCategory scans every job log for the category's records.
func (s *FileStore) ListCategory(_ context.Context, category string) ([]*Record, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read feedback dir: %w", err)
	}

	var all []*Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), feedbackFileSuffix) {
			continue
		}
		records, err := s.readFile(filepath.Join(s.root, entry.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable feedback log",
				zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		all = append(all, records...)
	}
	return filterSorted(all, func(r *Record) bool { return r.Category == category }), nil
}

func (s *FileStore) jobPath(jobID string) string {
	return filepath.Join(s.root, jobID+feedbackFileSuffix)
}

func (s *FileStore) readFile(path string) ([]*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open feedback log: %w", err)
	}
	defer f.Close()

	var records []*Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			s.logger.Warn("skipping malformed feedback line",
				zap.String("file", filepath.Base(path)), zap.Error(err))
			continue
		}
		records = append(records, &rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read feedback log: %w", err)
	}
	return records, nil
}

// validatePathComponent rejects ids that could escape the store root.
func validatePathComponent(id string) error {
	if id == "" || strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return fmt.Errorf("invalid id for feedback path: %q", id)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
