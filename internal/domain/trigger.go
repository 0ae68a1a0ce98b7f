package domain

// TriggerEvent is emitted when every condition of a rule holds and the
// rule's cooldown for the symbol has elapsed.
type TriggerEvent struct {
	RuleName  string
	Category  RuleCategory
	Symbol    string
	Snapshot  FeatureSnapshot
	FiredAtMs int64 // Unix timestamp in milliseconds
}
