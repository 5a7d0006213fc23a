package loop

import (
	"context"
	"errors"
	"time"

	"github.com/hshk99/autopack/internal/application/port/output"
	"github.com/hshk99/autopack/internal/application/service"
	"github.com/hshk99/autopack/internal/application/usecase/execution"
	"github.com/hshk99/autopack/internal/domain/model"
	"github.com/hshk99/autopack/internal/domain/repository"
)

// DefaultMaxIterations bounds a run even when every phase is idle or
// failing. This ceiling is a safety property; never raise it silently.
const DefaultMaxIterations = 50

// TokenUsageReader reports cumulative token spend for a run
type TokenUsageReader interface {
	TokensUsed(ctx context.Context, runID string) (int, error)
}

// TokenUsageRecorder persists token spend observed by the loop
type TokenUsageRecorder interface {
	AddUsage(ctx context.Context, runID string, tokens int) error
}

// TokenUsageStore is the loop's view of the durable usage ledger. The
// loop both reads it for the budget check and writes every phase's
// spend back, so the check always sees the cumulative total.
type TokenUsageStore interface {
	TokenUsageReader
	TokenUsageRecorder
}

// Options configure one loop run
type Options struct {
	RunID              string
	PollInterval       time.Duration
	MaxIdleSleep       time.Duration
	MaxIterations      int
	StopOnFirstFailure bool
	PhaseDeadline      time.Duration
	MaxAttempts        int
}

// Summary reports what a loop run accomplished
type Summary struct {
	Iterations      int
	PhasesExecuted  int
	PhasesCompleted int
	PhasesFailed    int
	TokensUsed      int
	Stopped         string
}

// AutonomousLoop is the outer driver: it selects the next queued phase,
// hands it to the orchestrator, and enforces the cross-phase safety
// limits (token budget, iteration ceiling, kill switch).
type AutonomousLoop struct {
	phases    repository.PhaseStateRepository
	orch      *execution.RunPhaseUseCase
	runStatus output.RunStatusGateway
	usage     TokenUsageStore
	modes     *service.ModeManager
	tokenCap  int
	sleeper   service.Sleeper
	logger    output.Logger
}

// NewAutonomousLoop creates an AutonomousLoop
func NewAutonomousLoop(
	phases repository.PhaseStateRepository,
	orch *execution.RunPhaseUseCase,
	runStatus output.RunStatusGateway,
	usage TokenUsageStore,
	modes *service.ModeManager,
	tokenCap int,
	sleeper service.Sleeper,
	logger output.Logger,
) *AutonomousLoop {
	if logger == nil {
		logger = output.NopLogger{}
	}
	if sleeper == nil {
		sleeper = service.SystemSleeper{}
	}
	return &AutonomousLoop{
		phases:    phases,
		orch:      orch,
		runStatus: runStatus,
		usage:     usage,
		modes:     modes,
		tokenCap:  tokenCap,
		sleeper:   sleeper,
		logger:    logger,
	}
}

// Run drives phases until none remain, the iteration ceiling is hit,
// the budget is exhausted, or the kill switch engages. The budget check
// dominates every iteration: once the cap is exceeded no further status
// query or phase load is performed.
func (l *AutonomousLoop) Run(ctx context.Context, opts Options) (*Summary, error) {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.MaxIdleSleep <= 0 {
		opts.MaxIdleSleep = 60 * time.Second
	}

	summary := &Summary{}

	idleSleep := opts.PollInterval
	runID, err := model.NewRunID(opts.RunID)
	if err != nil {
		return summary, err
	}

	runChecked := false
	for summary.Iterations < opts.MaxIterations {
		summary.Iterations++

		// Budget first. Nothing else may spend tokens past the cap, not
		// even the startup run-exists query.
		used, err := l.usage.TokensUsed(ctx, opts.RunID)
		if err != nil {
			return summary, err
		}
		if used >= l.tokenCap {
			summary.Stopped = "budget_exhausted"
			summary.TokensUsed = used
			return summary, &model.BudgetExhaustedError{TokensUsed: used, TokenCap: l.tokenCap}
		}

		if !runChecked {
			if err := l.checkRunExists(ctx, opts.RunID); err != nil {
				summary.Stopped = "run_not_found"
				return summary, err
			}
			runChecked = true
		}

		if l.modes != nil && l.modes.Mode() == service.ModeKilled {
			summary.Stopped = "killed"
			l.logger.Warn("kill switch engaged, halting loop for run %s", opts.RunID)
			return summary, nil
		}

		next, err := l.phases.NextQueued(ctx, runID)
		if err != nil {
			return summary, err
		}
		if next == nil {
			// Idle: back off instead of busy-polling
			l.logger.Debug("no queued phase for run %s, sleeping %s", opts.RunID, idleSleep)
			if err := l.sleeper.Sleep(ctx, idleSleep); err != nil {
				summary.Stopped = "cancelled"
				return summary, err
			}
			idleSleep *= 2
			if idleSleep > opts.MaxIdleSleep {
				idleSleep = opts.MaxIdleSleep
			}
			continue
		}
		idleSleep = opts.PollInterval

		result, err := l.orch.Execute(ctx, execution.ExecutionContext{
			Spec: execution.PhaseSpec{
				RunID:   opts.RunID,
				PhaseID: next.PhaseID().String(),
			},
			MaxAttempts: opts.MaxAttempts,
			Deadline:    opts.PhaseDeadline,
		})
		summary.PhasesExecuted++
		if result != nil && result.TokensUsed > 0 {
			summary.TokensUsed += result.TokensUsed
			// Persist the spend so the next iteration's budget check sees
			// it. Unrecorded spend would let the loop run unmetered, so a
			// failed write stops the run.
			if uerr := l.usage.AddUsage(ctx, opts.RunID, result.TokensUsed); uerr != nil {
				summary.Stopped = "usage_write_failed"
				return summary, uerr
			}
		}
		if err != nil {
			return summary, err
		}

		if result.Success {
			summary.PhasesCompleted++
			continue
		}

		summary.PhasesFailed++
		if opts.StopOnFirstFailure {
			summary.Stopped = "first_failure"
			l.logger.Info("stopping on first failure: phase %s (%s)", next.PhaseID(), result.Status)
			return summary, nil
		}
		if !result.ShouldContinue {
			summary.Stopped = "halted_by_orchestrator"
			return summary, nil
		}
	}

	summary.Stopped = "max_iterations"
	return summary, nil
}

// checkRunExists is a best-effort startup sanity check. A missing run
// is fatal; any other failure (500, network) is logged and ignored so
// a transient infra error cannot abort a run that might succeed.
func (l *AutonomousLoop) checkRunExists(ctx context.Context, runID string) error {
	if l.runStatus == nil {
		return nil
	}
	_, err := l.runStatus.GetRunStatus(ctx, runID)
	if err == nil {
		return nil
	}
	var notFound *model.RunNotFoundError
	if errors.As(err, &notFound) {
		return err
	}
	l.logger.Warn("run status check failed (continuing): %v", err)
	return nil
}
