package feedback

import (
	"fmt"
	"time"
)

// RegressionSeverity tiers a detected regression by how much of the
// original improvement has been lost.
type RegressionSeverity string

const (
	SeverityCritical RegressionSeverity = "critical"
	SeverityHigh     RegressionSeverity = "high"
	SeverityMedium   RegressionSeverity = "medium"
	SeverityLow      RegressionSeverity = "low"
)

// DefaultRegressionThreshold is the minimum fraction of improvement
// lost before any alert is emitted.
const DefaultRegressionThreshold = 0.15

// Improvement records a fix's before/after metric so later telemetry
// can detect backsliding. Metrics are "lower is better" (cost, failure
// rate, retries).
type Improvement struct {
	TaskID     string    `json:"task_id"`
	Metric     string    `json:"metric"`
	Baseline   float64   `json:"baseline"`
	Improved   float64   `json:"improved"`
	RecordedAt time.Time `json:"recorded_at"`
}

// RegressionAlert is emitted when a previously improved metric degrades
// back toward its baseline.
type RegressionAlert struct {
	TaskID         string             `json:"task_id"`
	Metric         string             `json:"metric"`
	Baseline       float64            `json:"baseline"`
	Improved       float64            `json:"improved"`
	Current        float64            `json:"current"`
	FractionLost   float64            `json:"fraction_lost"`
	Severity       RegressionSeverity `json:"severity"`
	Recommendation string             `json:"recommendation"`
}

// RegressionDetector compares current metrics against recorded
// improvements.
type RegressionDetector struct {
	threshold float64
}

// NewRegressionDetector uses the default 15% threshold when given a
// non-positive one.
func NewRegressionDetector(threshold float64) *RegressionDetector {
	if threshold <= 0 {
		threshold = DefaultRegressionThreshold
	}
	return &RegressionDetector{threshold: threshold}
}

// Check evaluates the current metric value against an improvement.
// Returns nil when the fix is holding (fraction of improvement lost is
// under the threshold).
func (d *RegressionDetector) Check(imp Improvement, current float64) *RegressionAlert {
	gain := imp.Baseline - imp.Improved
	if gain <= 0 {
		// Nothing was gained, nothing to regress.
		return nil
	}

	lost := (current - imp.Improved) / gain
	if lost < d.threshold {
		return nil
	}
	if lost > 1 {
		lost = 1
	}

	severity := classifySeverity(lost)
	return &RegressionAlert{
		TaskID:         imp.TaskID,
		Metric:         imp.Metric,
		Baseline:       imp.Baseline,
		Improved:       imp.Improved,
		Current:        current,
		FractionLost:   lost,
		Severity:       severity,
		Recommendation: recommend(severity, imp),
	}
}

// classifySeverity maps fraction-of-improvement-lost to a tier.
// critical means the metric is back near its baseline.
func classifySeverity(lost float64) RegressionSeverity {
	switch {
	case lost >= 0.9:
		return SeverityCritical
	case lost >= 0.5:
		return SeverityHigh
	case lost >= 0.25:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func recommend(severity RegressionSeverity, imp Improvement) string {
	switch severity {
	case SeverityCritical:
		return fmt.Sprintf("revert the fix for %s: %s has returned to baseline", imp.TaskID, imp.Metric)
	case SeverityHigh:
		return fmt.Sprintf("investigate %s: most of the %s improvement has been lost", imp.TaskID, imp.Metric)
	case SeverityMedium:
		return fmt.Sprintf("investigate recent changes affecting %s", imp.Metric)
	default:
		return fmt.Sprintf("re-test %s on the next telemetry cycle", imp.Metric)
	}
}
