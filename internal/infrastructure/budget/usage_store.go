package budget

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// UsageStore tracks cumulative token spend per run and per day in a
// JSON file. It backs both the run budget cap and the feedback loop's
// daily budget gating.
type UsageStore struct {
	fs          afero.Fs
	path        string
	dailyBudget int
	mu          sync.Mutex
}

type usageFile struct {
	Runs  map[string]int `json:"runs"`
	Daily map[string]int `json:"daily"`
}

// NewUsageStore creates a UsageStore at path
func NewUsageStore(fs afero.Fs, path string, dailyBudget int) *UsageStore {
	return &UsageStore{fs: fs, path: path, dailyBudget: dailyBudget}
}

// TokensUsed returns the cumulative spend for a run
func (s *UsageStore) TokensUsed(ctx context.Context, runID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return 0, err
	}
	return data.Runs[runID], nil
}

// AddUsage records spend against a run and today's daily total
func (s *UsageStore) AddUsage(ctx context.Context, runID string, tokens int) error {
	if tokens <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return err
	}
	data.Runs[runID] += tokens
	data.Daily[today()] += tokens
	return s.save(data)
}

// RemainingDailyBudget reports today's remaining and total budget
func (s *UsageStore) RemainingDailyBudget(ctx context.Context) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return 0, 0, err
	}
	remaining := s.dailyBudget - data.Daily[today()]
	if remaining < 0 {
		remaining = 0
	}
	return remaining, s.dailyBudget, nil
}

func (s *UsageStore) load() (*usageFile, error) {
	data := &usageFile{Runs: map[string]int{}, Daily: map[string]int{}}

	exists, err := afero.Exists(s.fs, s.path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return data, nil
	}

	raw, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return nil, fmt.Errorf("read usage store: %w", err)
	}
	if err := json.Unmarshal(raw, data); err != nil {
		return nil, fmt.Errorf("parse usage store: %w", err)
	}
	if data.Runs == nil {
		data.Runs = map[string]int{}
	}
	if data.Daily == nil {
		data.Daily = map[string]int{}
	}
	return data, nil
}

func (s *UsageStore) save(data *usageFile) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(s.fs, s.path, raw, 0o644)
}

func today() string {
	return time.Now().UTC().Format("2006-01-02")
}
