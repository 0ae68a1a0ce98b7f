package domain

import "strings"

// Operator is a comparison applied by one rule condition.
type Operator int

const (
	OpGT Operator = iota // >
	OpLT                 // <
	OpGE                 // >=
	OpLE                 // <=
	OpEQ                 // ==
	OpNE                 // !=
)

// String returns the operator's comparison symbol.
func (op Operator) String() string {
	switch op {
	case OpGT:
		return ">"
	case OpLT:
		return "<"
	case OpGE:
		return ">="
	case OpLE:
		return "<="
	case OpEQ:
		return "=="
	case OpNE:
		return "!="
	default:
		return "?"
	}
}

// Apply evaluates `value op threshold`.
func (op Operator) Apply(value, threshold float64) bool {
	switch op {
	case OpGT:
		return value > threshold
	case OpLT:
		return value < threshold
	case OpGE:
		return value >= threshold
	case OpLE:
		return value <= threshold
	case OpEQ:
		return value == threshold
	case OpNE:
		return value != threshold
	default:
		return false
	}
}

// Condition is one predicate of a rule's conjunction, parsed once at
// configuration load.
type Condition struct {
	Field     string   // snapshot field name
	Op        Operator // comparison operator
	Threshold float64  // right-hand side
}

// RuleCategory groups rules by trade semantics; it drives the side of the
// resulting order intent and the fallback take-profit/stop-loss multiples.
type RuleCategory string

const (
	CategorySqueezeDown RuleCategory = "squeeze_down"
	CategorySqueezeUp   RuleCategory = "squeeze_up"
	CategoryFade        RuleCategory = "fade"
	CategoryBreakout    RuleCategory = "breakout"
)

// IsSqueeze reports whether the category is one of the squeeze variants.
func (c RuleCategory) IsSqueeze() bool {
	return c == CategorySqueezeDown || c == CategorySqueezeUp
}

// TriggerRule is a named conjunction of conditions plus an action list.
// Immutable after configuration load.
type TriggerRule struct {
	Name       string
	Category   RuleCategory
	Conditions []Condition
	Actions    []string
	CooldownMs int64 // per-symbol re-fire interval, 0 means engine default
}

// InferCategory derives a rule category from the rule name when the
// configuration does not declare one. Breakout is the fallback since it is
// the only category whose side is resolved from the snapshot itself.
func InferCategory(ruleName string) RuleCategory {
	name := strings.ToLower(ruleName)
	switch {
	case strings.Contains(name, "squeeze_down") || strings.Contains(name, "squeeze-down"):
		return CategorySqueezeDown
	case strings.Contains(name, "squeeze_up") || strings.Contains(name, "squeeze-up"):
		return CategorySqueezeUp
	case strings.Contains(name, "fade") || strings.Contains(name, "revert"):
		return CategoryFade
	default:
		return CategoryBreakout
	}
}
