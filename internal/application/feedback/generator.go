package feedback

import (
	"context"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hshk99/autopack/internal/application/port/output"
)

// Issue is one aggregated telemetry finding
type Issue struct {
	ID          string     `json:"id"`
	Type        IssueType  `json:"type"`
	Title       string     `json:"title"`
	Detail      string     `json:"detail"`
	Occurrences int        `json:"occurrences"`
	Confidence  float64    `json:"confidence"`
	Effort      EffortTier `json:"effort"`
}

// ImprovementTask is a bounded-size, bounded-cost unit of follow-up work
type ImprovementTask struct {
	ID            string    `json:"id"`
	IssueID       string    `json:"issue_id"`
	IssueType     IssueType `json:"issue_type"`
	Title         string    `json:"title"`
	Detail        string    `json:"detail"`
	EstimatedCost float64   `json:"estimated_cost"`
	CreatedAt     time.Time `json:"created_at"`
}

// BudgetReader reports remaining daily token budget
type BudgetReader interface {
	RemainingDailyBudget(ctx context.Context) (remaining, total int, err error)
}

// Generation thresholds
const (
	// MinTaskConfidence drops issues the aggregator is unsure about
	MinTaskConfidence = 0.6

	// LowCostThreshold is the per-task cap applied while constrained
	LowCostThreshold = 5000.0

	// constrainedBudgetFraction marks the system constrained when less
	// than this share of the daily budget remains
	constrainedBudgetFraction = 0.5
)

// TaskGenerator converts ranked issues into improvement tasks, filtered
// by confidence and, when the daily budget is constrained, by estimated
// per-task cost.
type TaskGenerator struct {
	policy Policy
	budget BudgetReader
	logger output.Logger
}

// NewTaskGenerator creates a TaskGenerator under the default policy
func NewTaskGenerator(budget BudgetReader, logger output.Logger) *TaskGenerator {
	return NewTaskGeneratorWithPolicy(DefaultPolicy(), budget, logger)
}

// NewTaskGeneratorWithPolicy creates a TaskGenerator with custom tuning
func NewTaskGeneratorWithPolicy(policy Policy, budget BudgetReader, logger output.Logger) *TaskGenerator {
	if logger == nil {
		logger = output.NopLogger{}
	}
	return &TaskGenerator{policy: policy, budget: budget, logger: logger}
}

// Generate produces tasks for the given issues, cheapest first. With
// less than half the daily budget remaining only tasks at or under the
// low-cost threshold survive; otherwise no cost filter applies.
func (g *TaskGenerator) Generate(ctx context.Context, issues []Issue) ([]ImprovementTask, error) {
	constrained, err := g.isConstrained(ctx)
	if err != nil {
		return nil, err
	}

	tasks := make([]ImprovementTask, 0, len(issues))
	for _, issue := range issues {
		if issue.Confidence < g.policy.MinConfidence {
			g.logger.Debug("skipping low-confidence issue %s (%.2f)", issue.ID, issue.Confidence)
			continue
		}

		cost := g.policy.EstimateCost(issue.Effort, issue.Type, issue.Occurrences)
		if constrained && cost > g.policy.LowCostThreshold {
			g.logger.Debug("skipping issue %s: cost %.0f over constrained threshold", issue.ID, cost)
			continue
		}

		tasks = append(tasks, ImprovementTask{
			ID:            ulid.Make().String(),
			IssueID:       issue.ID,
			IssueType:     issue.Type,
			Title:         issue.Title,
			Detail:        issue.Detail,
			EstimatedCost: cost,
			CreatedAt:     time.Now().UTC(),
		})
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].EstimatedCost < tasks[j].EstimatedCost
	})
	return tasks, nil
}

func (g *TaskGenerator) isConstrained(ctx context.Context) (bool, error) {
	if g.budget == nil {
		return false, nil
	}
	remaining, total, err := g.budget.RemainingDailyBudget(ctx)
	if err != nil {
		return false, err
	}
	if total <= 0 {
		return false, nil
	}
	return float64(remaining) < constrainedBudgetFraction*float64(total), nil
}
