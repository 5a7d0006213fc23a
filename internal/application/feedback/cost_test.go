package feedback

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTaskCost_TierAndTypeScaling(t *testing.T) {
	// S tier, retry cause, single occurrence: 2000 * 1.2
	assert.InDelta(t, 2400, EstimateTaskCost(EffortS, IssueRetryCause, 1), 0.01)

	// M tier, failure mode: 8000 * 1.3
	assert.InDelta(t, 10400, EstimateTaskCost(EffortM, IssueFailureMode, 1), 0.01)

	// XL tier, cost sink: 50000 * 1.5
	assert.InDelta(t, 75000, EstimateTaskCost(EffortXL, IssueCostSink, 1), 0.01)
}

func TestEstimateTaskCost_OccurrenceScaling(t *testing.T) {
	base := EstimateTaskCost(EffortS, IssueRetryCause, 1)

	// Each extra occurrence adds 5%
	assert.InDelta(t, base*1.05, EstimateTaskCost(EffortS, IssueRetryCause, 2), 0.01)
	assert.InDelta(t, base*1.25, EstimateTaskCost(EffortS, IssueRetryCause, 6), 0.01)

	// Capped at 1.5x so hot issues stay affordable
	assert.InDelta(t, base*1.5, EstimateTaskCost(EffortS, IssueRetryCause, 100), 0.01)

	// Zero or negative occurrences behave like one
	assert.InDelta(t, base, EstimateTaskCost(EffortS, IssueRetryCause, 0), 0.01)
}

func TestPolicy_EstimateCostUnknownInputsFallBack(t *testing.T) {
	p := DefaultPolicy()

	// Unknown tier uses the M base; unknown type uses factor 1.0
	assert.InDelta(t, 8000, p.EstimateCost("??", "??", 1), 0.01)
}

func TestParsePolicy_OverlayOnDefaults(t *testing.T) {
	yaml := []byte(`
tier_costs:
  S: 1000
min_confidence: 0.8
`)
	p, err := ParsePolicy(yaml)
	assert.NoError(t, err)

	// Overridden fields
	assert.InDelta(t, 1000, p.TierCosts[EffortS], 0.01)
	assert.InDelta(t, 0.8, p.MinConfidence, 0.001)

	// Untouched fields keep defaults
	assert.InDelta(t, 8000, p.TierCosts[EffortM], 0.01)
	assert.InDelta(t, LowCostThreshold, p.LowCostThreshold, 0.01)
	assert.InDelta(t, DefaultRegressionThreshold, p.RegressionThreshold, 0.001)
}

func TestParsePolicy_EmptyAndInvalid(t *testing.T) {
	p, err := ParsePolicy(nil)
	assert.NoError(t, err)
	assert.InDelta(t, MinTaskConfidence, p.MinConfidence, 0.001)

	_, err = ParsePolicy([]byte("{not yaml"))
	assert.Error(t, err)
}

func TestDefaultPolicy_ReturnsCopies(t *testing.T) {
	p := DefaultPolicy()
	p.TierCosts[EffortS] = 1

	// Package defaults must not be mutated through a policy copy
	fresh := DefaultPolicy()
	assert.InDelta(t, 2000, fresh.TierCosts[EffortS], 0.01)
}
