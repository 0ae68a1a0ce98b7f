package domain

// VerdictAction is the decision collaborator's instruction for a trigger.
type VerdictAction string

const (
	ActionConfirm VerdictAction = "confirm"
	ActionCancel  VerdictAction = "cancel"
	ActionModify  VerdictAction = "modify"
)

// Valid reports whether the action is one of the three known values.
// Anything else from the decision service is treated as malformed output.
func (a VerdictAction) Valid() bool {
	return a == ActionConfirm || a == ActionCancel || a == ActionModify
}

// DecisionVerdict is the structured outcome of a decision request, either
// from the external collaborator or from the local fallback scorer.
type DecisionVerdict struct {
	Action                  VerdictAction
	Confidence              float64 // 0..1
	SizeAdjustment          float64 // position size multiplier
	TakeProfitATR           float64 // take-profit distance in ATR multiples
	StopLossATR             float64 // stop-loss distance in ATR multiples
	Reasoning               string
	ContinuationProbability float64 // 0..1
	Fallback                bool    // true when produced by the local scorer
}

// OrderIntent is the record handed to the external order-placement
// collaborator. Actual order placement is outside this system.
type OrderIntent struct {
	Symbol          string
	Side            Side
	SizeMultiplier  float64
	TakeProfitATR   float64
	StopLossATR     float64
	OriginatingRule string
	CreatedAtMs     int64 // Unix timestamp in milliseconds
}
