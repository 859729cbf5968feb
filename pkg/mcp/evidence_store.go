package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LocalEvidenceStore appends evidence records to daily JSONL files
// (YYYY-MM-DD.jsonl) under a directory.
type LocalEvidenceStore struct {
	dir       string
	mu        sync.Mutex
	file      *os.File
	currentFn string
	now       func() time.Time
}

// NewLocalEvidenceStore creates the store. An empty dir selects
// ~/.agentid/evidence.
func NewLocalEvidenceStore(dir string) (*LocalEvidenceStore, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, ".agentid", "evidence")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create evidence directory: %w", err)
	}
	return &LocalEvidenceStore{dir: dir, now: time.Now}, nil
}

// Store appends one record.
func (s *LocalEvidenceStore) Store(_ context.Context, record EvidenceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn := filepath.Join(s.dir, s.now().UTC().Format("2006-01-02")+".jsonl")
	if s.currentFn != fn {
		if s.file != nil {
			_ = s.file.Close()
		}
		file, err := os.OpenFile(fn, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return fmt.Errorf("failed to open evidence file: %w", err)
		}
		s.file = file
		s.currentFn = fn
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal evidence: %w", err)
	}
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write evidence: %w", err)
	}
	return nil
}

// Close closes the current file.
func (s *LocalEvidenceStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		s.currentFn = ""
		return err
	}
	return nil
}
