package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/hshk99/autopack/internal/domain/repository"
)

// DecisionLogRepositoryImpl stores one JSON document per decision under
// <base>/runs/<run_id>/decisions/<decision_id>.json.
type DecisionLogRepositoryImpl struct {
	fs   afero.Fs
	base string
}

// NewDecisionLogRepository creates a file-backed decision log
func NewDecisionLogRepository(fs afero.Fs, base string) repository.DecisionLogRepository {
	return &DecisionLogRepositoryImpl{fs: fs, base: base}
}

func (r *DecisionLogRepositoryImpl) dir(runID string) string {
	return filepath.Join(r.base, "runs", runID, "decisions")
}

// Save writes the record as an indented JSON document
func (r *DecisionLogRepositoryImpl) Save(ctx context.Context, record *repository.DecisionLogRecord) error {
	if record.Decision == nil {
		return fmt.Errorf("decision log record carries no decision")
	}

	dir := r.dir(record.RunID)
	if err := r.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create decisions dir: %w", err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal decision record: %w", err)
	}

	path := filepath.Join(dir, record.Decision.ID+".json")
	if err := afero.WriteFile(r.fs, path, data, 0o644); err != nil {
		return fmt.Errorf("write decision record: %w", err)
	}
	return nil
}

// Find loads a single decision record
func (r *DecisionLogRepositoryImpl) Find(ctx context.Context, runID, decisionID string) (*repository.DecisionLogRecord, error) {
	path := filepath.Join(r.dir(runID), decisionID+".json")
	data, err := afero.ReadFile(r.fs, path)
	if err != nil {
		return nil, fmt.Errorf("read decision record %s: %w", decisionID, err)
	}

	var record repository.DecisionLogRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("parse decision record %s: %w", decisionID, err)
	}
	return &record, nil
}

// ListByRun loads every decision record for a run, ordered by decision
// ID (ULIDs sort chronologically).
func (r *DecisionLogRepositoryImpl) ListByRun(ctx context.Context, runID string) ([]*repository.DecisionLogRecord, error) {
	dir := r.dir(runID)
	exists, err := afero.DirExists(r.fs, dir)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	entries, err := afero.ReadDir(r.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("read decisions dir: %w", err)
	}

	var records []*repository.DecisionLogRecord
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		record, err := r.Find(ctx, runID, strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Decision.ID < records[j].Decision.ID
	})
	return records, nil
}
