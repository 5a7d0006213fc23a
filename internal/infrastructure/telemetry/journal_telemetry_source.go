package telemetry

import (
	"context"
	"fmt"
	"sort"

	"github.com/hshk99/autopack/internal/application/feedback"
	"github.com/hshk99/autopack/internal/domain/model/decision"
	"github.com/hshk99/autopack/internal/domain/repository"
)

// JournalTelemetrySource derives ranked issues from the run journal.
// This is the feedback daemon's only view of the engine; the two share
// no in-memory state.
type JournalTelemetrySource struct {
	journal repository.JournalRepository
}

// NewJournalTelemetrySource creates a JournalTelemetrySource
func NewJournalTelemetrySource(journal repository.JournalRepository) *JournalTelemetrySource {
	return &JournalTelemetrySource{journal: journal}
}

// AggregateIssues groups journal failures by failure class and ranks
// them by occurrence count.
func (s *JournalTelemetrySource) AggregateIssues(ctx context.Context) ([]feedback.Issue, error) {
	records, err := s.journal.Load(ctx)
	if err != nil {
		return nil, err
	}

	byClass := map[string]int{}
	for _, r := range records {
		if r.Status == "failed" && r.FailureClass != "" {
			byClass[r.FailureClass]++
		}
	}

	var issues []feedback.Issue
	for class, count := range byClass {
		issues = append(issues, feedback.Issue{
			ID:          "failure-" + class,
			Type:        issueTypeFor(class),
			Title:       fmt.Sprintf("recurring %s failures", class),
			Detail:      fmt.Sprintf("%d journal entries failed with class %s", count, class),
			Occurrences: count,
			Confidence:  confidenceFor(count),
			Effort:      effortFor(class),
		})
	}

	sort.Slice(issues, func(i, j int) bool {
		return issues[i].Occurrences > issues[j].Occurrences
	})
	return issues, nil
}

// CurrentMetric reports per-failure-class counts as regression metrics.
// Metric names follow the "failures.<class>" convention.
func (s *JournalTelemetrySource) CurrentMetric(ctx context.Context, metric string) (float64, error) {
	records, err := s.journal.Load(ctx)
	if err != nil {
		return 0, err
	}

	var class string
	if _, err := fmt.Sscanf(metric, "failures.%s", &class); err != nil {
		return 0, fmt.Errorf("unknown metric %s", metric)
	}

	count := 0
	for _, r := range records {
		if r.Status == "failed" && r.FailureClass == class {
			count++
		}
	}
	return float64(count), nil
}

func issueTypeFor(class string) feedback.IssueType {
	switch decision.FailureClass(class) {
	case decision.FailureTimeout:
		return feedback.IssueCostSink
	case decision.FailurePatchApply, decision.FailureCI:
		return feedback.IssueRetryCause
	default:
		return feedback.IssueFailureMode
	}
}

func confidenceFor(occurrences int) float64 {
	// Confidence grows with evidence and saturates at 0.95
	c := 0.5 + 0.1*float64(occurrences)
	if c > 0.95 {
		c = 0.95
	}
	return c
}

func effortFor(class string) feedback.EffortTier {
	switch decision.FailureClass(class) {
	case decision.FailureDepsMissing, decision.FailureMissingPath:
		return feedback.EffortS
	case decision.FailurePatchApply, decision.FailurePermissionDenied:
		return feedback.EffortM
	case decision.FailureCI, decision.FailureTimeout:
		return feedback.EffortL
	default:
		return feedback.EffortM
	}
}
