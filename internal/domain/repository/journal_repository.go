package repository

import "context"

// JournalRecord is one append-only audit line for a phase attempt
type JournalRecord struct {
	Timestamp    string        `json:"timestamp"`
	RunID        string        `json:"run_id"`
	PhaseID      string        `json:"phase_id"`
	Attempt      int           `json:"attempt"`
	Step         string        `json:"step"`
	Status       string        `json:"status"`
	Decision     string        `json:"decision"`
	ElapsedMs    int64         `json:"elapsed_ms"`
	Error        string        `json:"error"`
	FailureClass string        `json:"failure_class,omitempty"`
	Artifacts    []interface{} `json:"artifacts"`
}

// JournalRepository appends and loads run journal records (NDJSON).
// Journal writes are best-effort audit trail: callers log failures but
// never abort phase execution on them.
type JournalRepository interface {
	Append(ctx context.Context, record *JournalRecord) error
	Load(ctx context.Context) ([]*JournalRecord, error)
	FindByPhase(ctx context.Context, phaseID string) ([]*JournalRecord, error)
}
