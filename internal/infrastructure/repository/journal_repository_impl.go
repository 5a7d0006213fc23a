package repository

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/hshk99/autopack/internal/domain/repository"
)

// JournalRepositoryImpl appends NDJSON records to a single journal
// file. Appends are serialized with a mutex; the journal is an audit
// trail, not a coordination mechanism.
type JournalRepositoryImpl struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

// NewJournalRepository creates an NDJSON journal at path
func NewJournalRepository(fs afero.Fs, path string) repository.JournalRepository {
	return &JournalRepositoryImpl{fs: fs, path: path}
}

// Append writes one record as a single JSON line
func (r *JournalRepositoryImpl) Append(ctx context.Context, record *repository.JournalRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if record.Artifacts == nil {
		record.Artifacts = []interface{}{}
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal journal record: %w", err)
	}

	if err := r.fs.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}

	f, err := r.fs.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append journal record: %w", err)
	}
	return nil
}

// Load reads every journal record, oldest first. Malformed lines are
// skipped so one torn write cannot poison the whole journal.
func (r *JournalRepositoryImpl) Load(ctx context.Context) ([]*repository.JournalRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	exists, err := afero.Exists(r.fs, r.path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	f, err := r.fs.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var records []*repository.JournalRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record repository.JournalRecord
		if err := json.Unmarshal(line, &record); err != nil {
			continue
		}
		records = append(records, &record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	return records, nil
}

// FindByPhase returns the journal entries for one phase, oldest first
func (r *JournalRepositoryImpl) FindByPhase(ctx context.Context, phaseID string) ([]*repository.JournalRecord, error) {
	all, err := r.Load(ctx)
	if err != nil {
		return nil, err
	}
	var matched []*repository.JournalRecord
	for _, record := range all {
		if record.PhaseID == phaseID {
			matched = append(matched, record)
		}
	}
	return matched, nil
}
