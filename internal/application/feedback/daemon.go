package feedback

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hshk99/autopack/internal/application/port/output"
)

// TelemetrySource aggregates ranked issues from the durable store. The
// daemon shares no in-memory state with the main loop; this boundary is
// its only view of what the engine has been doing.
type TelemetrySource interface {
	AggregateIssues(ctx context.Context) ([]Issue, error)
	CurrentMetric(ctx context.Context, metric string) (float64, error)
}

// TaskSink persists generated improvement tasks and regression alerts
type TaskSink interface {
	SaveTasks(ctx context.Context, tasks []ImprovementTask) error
	SaveAlerts(ctx context.Context, alerts []RegressionAlert) error
}

// ImprovementStore tracks recorded before/after metrics
type ImprovementStore interface {
	ListImprovements(ctx context.Context) ([]Improvement, error)
}

// Daemon runs the telemetry feedback cycle on a fixed interval in the
// background, independent of the autonomous loop's lifecycle.
type Daemon struct {
	source       TelemetrySource
	generator    *TaskGenerator
	detector     *RegressionDetector
	sink         TaskSink
	improvements ImprovementStore
	interval     time.Duration
	logger       output.Logger

	group  *errgroup.Group
	cancel context.CancelFunc
}

// NewDaemon creates a feedback Daemon
func NewDaemon(
	source TelemetrySource,
	generator *TaskGenerator,
	detector *RegressionDetector,
	sink TaskSink,
	improvements ImprovementStore,
	interval time.Duration,
	logger output.Logger,
) *Daemon {
	if logger == nil {
		logger = output.NopLogger{}
	}
	return &Daemon{
		source:       source,
		generator:    generator,
		detector:     detector,
		sink:         sink,
		improvements: improvements,
		interval:     interval,
		logger:       logger,
	}
}

// Start launches the background cycle. Cycle errors are logged, never
// fatal: a broken telemetry pass must not take the daemon down.
func (d *Daemon) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.group, ctx = errgroup.WithContext(ctx)

	d.group.Go(func() error {
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := d.RunCycle(ctx); err != nil {
					d.logger.Warn("feedback cycle failed: %v", err)
				}
			}
		}
	})
}

// Stop halts the daemon and waits for the in-flight cycle to finish
func (d *Daemon) Stop() error {
	if d.cancel == nil {
		return nil
	}
	d.cancel()
	return d.group.Wait()
}

// RunCycle performs one aggregate -> generate -> persist pass plus a
// regression sweep over recorded improvements.
func (d *Daemon) RunCycle(ctx context.Context) error {
	issues, err := d.source.AggregateIssues(ctx)
	if err != nil {
		return err
	}

	tasks, err := d.generator.Generate(ctx, issues)
	if err != nil {
		return err
	}
	if len(tasks) > 0 {
		if err := d.sink.SaveTasks(ctx, tasks); err != nil {
			return err
		}
		d.logger.Info("feedback cycle produced %d task(s) from %d issue(s)", len(tasks), len(issues))
	}

	return d.sweepRegressions(ctx)
}

func (d *Daemon) sweepRegressions(ctx context.Context) error {
	if d.improvements == nil || d.detector == nil {
		return nil
	}
	recorded, err := d.improvements.ListImprovements(ctx)
	if err != nil {
		return err
	}

	var alerts []RegressionAlert
	for _, imp := range recorded {
		current, err := d.source.CurrentMetric(ctx, imp.Metric)
		if err != nil {
			d.logger.Debug("metric %s unavailable: %v", imp.Metric, err)
			continue
		}
		if alert := d.detector.Check(imp, current); alert != nil {
			alerts = append(alerts, *alert)
			d.logger.Warn("regression (%s) on %s: %.0f%% of improvement lost",
				alert.Severity, alert.Metric, alert.FractionLost*100)
		}
	}

	if len(alerts) == 0 {
		return nil
	}
	return d.sink.SaveAlerts(ctx, alerts)
}
