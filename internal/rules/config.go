// Package rules loads declarative trigger rules and evaluates them against
// feature snapshots with per-symbol cooldown enforcement.
package rules

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"perpwatch/internal/domain"
)

// ruleSpec is the YAML shape of one rule entry.
type ruleSpec struct {
	WhenAll     map[string]any `yaml:"when_all"`
	Actions     []string       `yaml:"actions"`
	Category    string         `yaml:"category"`
	CooldownSec int64          `yaml:"cooldown_sec"`
}

// fileSpec is the YAML shape of the whole rule document.
type fileSpec struct {
	Rules              map[string]ruleSpec `yaml:"rules"`
	DefaultCooldownSec int64               `yaml:"default_cooldown_sec"`
}

// Set is the parsed, immutable rule configuration.
type Set struct {
	Rules             []domain.TriggerRule
	DefaultCooldownMs int64
}

// condition-key suffixes mapped to operators. A key without a recognized
// suffix is a direct equality check.
var opSuffixes = []struct {
	suffix string
	op     domain.Operator
}{
	{"_gt", domain.OpGT},
	{"_lt", domain.OpLT},
	{"_ge", domain.OpGE},
	{"_le", domain.OpLE},
	{"_eq", domain.OpEQ},
	{"_ne", domain.OpNE},
}

// Load reads the rule document at path. A missing or invalid file returns
// the built-in default set together with the load error so the caller can
// log the fallback.
func Load(path string) (Set, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return DefaultSet(), fmt.Errorf("read rules file: %w", err)
	}
	set, err := Parse(b)
	if err != nil {
		return DefaultSet(), err
	}
	return set, nil
}

// Parse decodes and validates a rule document.
func Parse(b []byte) (Set, error) {
	var spec fileSpec
	if err := yaml.Unmarshal(b, &spec); err != nil {
		return DefaultSet(), fmt.Errorf("parse rules yaml: %w", err)
	}
	if len(spec.Rules) == 0 {
		return DefaultSet(), fmt.Errorf("rules document contains no rules")
	}

	set := Set{DefaultCooldownMs: spec.DefaultCooldownSec * 1000}
	if set.DefaultCooldownMs <= 0 {
		set.DefaultCooldownMs = DefaultCooldownMs
	}

	// Deterministic rule order regardless of map iteration.
	names := make([]string, 0, len(spec.Rules))
	for name := range spec.Rules {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		rule, err := parseRule(name, spec.Rules[name])
		if err != nil {
			return DefaultSet(), fmt.Errorf("rule %q: %w", name, err)
		}
		set.Rules = append(set.Rules, rule)
	}
	return set, nil
}

// parseRule converts one YAML entry into a parsed rule. Condition keys are
// parsed once here; evaluation never re-parses strings.
func parseRule(name string, spec ruleSpec) (domain.TriggerRule, error) {
	if len(spec.WhenAll) == 0 {
		return domain.TriggerRule{}, fmt.Errorf("empty when_all")
	}

	rule := domain.TriggerRule{
		Name:       name,
		Actions:    spec.Actions,
		CooldownMs: spec.CooldownSec * 1000,
	}

	if spec.Category != "" {
		rule.Category = domain.RuleCategory(spec.Category)
	} else {
		rule.Category = domain.InferCategory(name)
	}

	keys := make([]string, 0, len(spec.WhenAll))
	for key := range spec.WhenAll {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		threshold, err := thresholdValue(spec.WhenAll[key])
		if err != nil {
			return domain.TriggerRule{}, fmt.Errorf("condition %q: %w", key, err)
		}
		rule.Conditions = append(rule.Conditions, parseConditionKey(key, threshold))
	}
	return rule, nil
}

// parseConditionKey splits a condition key into field and operator. The
// trailing two-character suffix encodes the comparison; no suffix means
// equality against the threshold.
func parseConditionKey(key string, threshold float64) domain.Condition {
	for _, s := range opSuffixes {
		if strings.HasSuffix(key, s.suffix) && len(key) > len(s.suffix) {
			return domain.Condition{
				Field:     strings.TrimSuffix(key, s.suffix),
				Op:        s.op,
				Threshold: threshold,
			}
		}
	}
	return domain.Condition{Field: key, Op: domain.OpEQ, Threshold: threshold}
}

// thresholdValue coerces a YAML scalar into a float64 threshold. Booleans
// map to 1/0 so `trade_burst_eq: true` works.
func thresholdValue(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("threshold %v (%T) is not numeric", v, v)
	}
}

// DefaultCooldownMs is the engine-wide re-fire interval when the document
// does not set one.
const DefaultCooldownMs = 300_000

// DefaultSet returns the built-in rule set: one rule per semantic
// category. Used when no valid rule document is available.
func DefaultSet() Set {
	return Set{
		DefaultCooldownMs: DefaultCooldownMs,
		Rules: []domain.TriggerRule{
			{
				Name:     "oi_spike_squeeze_down",
				Category: domain.CategorySqueezeDown,
				Conditions: []domain.Condition{
					{Field: domain.FieldOIDelta5mPct, Op: domain.OpGT, Threshold: 0.5},
					{Field: domain.FieldCVDSlope1m, Op: domain.OpLT, Threshold: -0.3},
					{Field: domain.FieldFundingBp, Op: domain.OpGT, Threshold: 1.0},
				},
				Actions: []string{"dispatch_order", "notify_workflow"},
			},
			{
				Name:     "oi_spike_squeeze_up",
				Category: domain.CategorySqueezeUp,
				Conditions: []domain.Condition{
					{Field: domain.FieldOIDelta5mPct, Op: domain.OpGT, Threshold: 0.5},
					{Field: domain.FieldCVDSlope1m, Op: domain.OpGT, Threshold: 0.3},
					{Field: domain.FieldFundingBp, Op: domain.OpLT, Threshold: -1.0},
				},
				Actions: []string{"dispatch_order", "notify_workflow"},
			},
			{
				Name:     "basis_fade",
				Category: domain.CategoryFade,
				Conditions: []domain.Condition{
					{Field: domain.FieldBasisBps, Op: domain.OpGT, Threshold: 25},
					{Field: domain.FieldVWAPZ1m, Op: domain.OpGT, Threshold: 1.5},
				},
				Actions: []string{"dispatch_order", "notify_workflow"},
			},
			{
				Name:     "breakout_continuation",
				Category: domain.CategoryBreakout,
				Conditions: []domain.Condition{
					{Field: domain.FieldCVDSlope1m, Op: domain.OpGT, Threshold: 0.3},
					{Field: domain.FieldTradeBurst, Op: domain.OpEQ, Threshold: 1},
					{Field: domain.FieldVWAPZ1m, Op: domain.OpGT, Threshold: 1.5},
				},
				Actions: []string{"dispatch_order", "notify_workflow"},
			},
		},
	}
}
