package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/hshk99/autopack/internal/application/feedback"
)

// FileImprovementStore keeps the recorded before/after metrics of
// accepted fixes in a single JSON file.
type FileImprovementStore struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

// NewFileImprovementStore creates a FileImprovementStore at path
func NewFileImprovementStore(fs afero.Fs, path string) *FileImprovementStore {
	return &FileImprovementStore{fs: fs, path: path}
}

// ListImprovements returns all recorded improvements
func (s *FileImprovementStore) ListImprovements(ctx context.Context) ([]feedback.Improvement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Record appends an improvement, replacing an earlier record for the
// same task and metric.
func (s *FileImprovementStore) Record(ctx context.Context, imp feedback.Improvement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recorded, err := s.load()
	if err != nil {
		return err
	}

	replaced := false
	for i, existing := range recorded {
		if existing.TaskID == imp.TaskID && existing.Metric == imp.Metric {
			recorded[i] = imp
			replaced = true
			break
		}
	}
	if !replaced {
		recorded = append(recorded, imp)
	}
	return s.save(recorded)
}

func (s *FileImprovementStore) load() ([]feedback.Improvement, error) {
	exists, err := afero.Exists(s.fs, s.path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	raw, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return nil, fmt.Errorf("read improvement store: %w", err)
	}
	var recorded []feedback.Improvement
	if err := json.Unmarshal(raw, &recorded); err != nil {
		return nil, fmt.Errorf("parse improvement store: %w", err)
	}
	return recorded, nil
}

func (s *FileImprovementStore) save(recorded []feedback.Improvement) error {
	raw, err := json.MarshalIndent(recorded, "", "  ")
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(s.fs, s.path, raw, 0o644)
}
