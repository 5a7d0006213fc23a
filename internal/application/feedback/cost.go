package feedback

// IssueType classifies an aggregated telemetry issue
type IssueType string

const (
	IssueCostSink    IssueType = "cost_sink"
	IssueFailureMode IssueType = "failure_mode"
	IssueRetryCause  IssueType = "retry_cause"
)

// EffortTier sizes a candidate improvement task
type EffortTier string

const (
	EffortS  EffortTier = "S"
	EffortM  EffortTier = "M"
	EffortL  EffortTier = "L"
	EffortXL EffortTier = "XL"
)

// Base token costs per effort tier
var tierBaseCost = map[EffortTier]float64{
	EffortS:  2000,
	EffortM:  8000,
	EffortL:  20000,
	EffortXL: 50000,
}

// Cost multipliers per issue type. Cost sinks are the most expensive to
// chase because fixing them usually means touching prompts and budgets.
var issueTypeFactor = map[IssueType]float64{
	IssueCostSink:    1.5,
	IssueFailureMode: 1.3,
	IssueRetryCause:  1.2,
}

// EstimateTaskCost scores a candidate task in tokens under the default
// policy: tier base cost, scaled by issue type, then mildly by how
// often the issue occurred. Occurrence scaling is capped so a hot issue
// cannot make its own fix look unaffordable.
func EstimateTaskCost(tier EffortTier, issueType IssueType, occurrences int) float64 {
	return DefaultPolicy().EstimateCost(tier, issueType, occurrences)
}
