package feedback

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Policy tunes task generation and regression detection. Operators
// override individual fields in a YAML file; anything omitted keeps its
// default.
type Policy struct {
	TierCosts           map[EffortTier]float64 `yaml:"tier_costs"`
	TypeFactors         map[IssueType]float64  `yaml:"type_factors"`
	MinConfidence       float64                `yaml:"min_confidence"`
	LowCostThreshold    float64                `yaml:"low_cost_threshold"`
	RegressionThreshold float64                `yaml:"regression_threshold"`
}

// DefaultPolicy returns the built-in tuning
func DefaultPolicy() Policy {
	tiers := make(map[EffortTier]float64, len(tierBaseCost))
	for k, v := range tierBaseCost {
		tiers[k] = v
	}
	factors := make(map[IssueType]float64, len(issueTypeFactor))
	for k, v := range issueTypeFactor {
		factors[k] = v
	}
	return Policy{
		TierCosts:           tiers,
		TypeFactors:         factors,
		MinConfidence:       MinTaskConfidence,
		LowCostThreshold:    LowCostThreshold,
		RegressionThreshold: DefaultRegressionThreshold,
	}
}

// ParsePolicy overlays YAML onto the default policy
func ParsePolicy(data []byte) (Policy, error) {
	p := DefaultPolicy()
	if len(data) == 0 {
		return p, nil
	}

	var overlay Policy
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return Policy{}, fmt.Errorf("parse feedback policy: %w", err)
	}

	for k, v := range overlay.TierCosts {
		p.TierCosts[k] = v
	}
	for k, v := range overlay.TypeFactors {
		p.TypeFactors[k] = v
	}
	if overlay.MinConfidence > 0 {
		p.MinConfidence = overlay.MinConfidence
	}
	if overlay.LowCostThreshold > 0 {
		p.LowCostThreshold = overlay.LowCostThreshold
	}
	if overlay.RegressionThreshold > 0 {
		p.RegressionThreshold = overlay.RegressionThreshold
	}
	return p, nil
}

// EstimateCost scores a candidate task under this policy
func (p Policy) EstimateCost(tier EffortTier, issueType IssueType, occurrences int) float64 {
	base, ok := p.TierCosts[tier]
	if !ok {
		base = p.TierCosts[EffortM]
	}
	factor, ok := p.TypeFactors[issueType]
	if !ok {
		factor = 1.0
	}

	if occurrences < 1 {
		occurrences = 1
	}
	occScale := 1.0 + 0.05*float64(occurrences-1)
	if occScale > 1.5 {
		occScale = 1.5
	}

	return base * factor * occScale
}
