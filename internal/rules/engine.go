package rules

import (
	"sync"

	"perpwatch/internal/domain"
	"perpwatch/internal/observability"
)

// cooldownKey identifies one (symbol, rule) cooldown entry.
type cooldownKey struct {
	symbol string
	rule   string
}

// Engine evaluates the configured rules against feature snapshots.
// Cooldown state is owned here and recorded at fire time, independent of
// what the decision gateway later does with the trigger.
type Engine struct {
	mu        sync.Mutex
	set       Set
	lastFired map[cooldownKey]int64 // fire timestamp in ms
}

// NewEngine creates an engine over the given rule set.
func NewEngine(set Set) *Engine {
	if set.DefaultCooldownMs <= 0 {
		set.DefaultCooldownMs = DefaultCooldownMs
	}
	return &Engine{
		set:       set,
		lastFired: make(map[cooldownKey]int64),
	}
}

// Rules returns the configured rules in evaluation order.
func (e *Engine) Rules() []domain.TriggerRule {
	return e.set.Rules
}

// Evaluate checks every rule against the snapshot and returns a trigger
// event per fired rule. A rule fires only when all of its conditions hold
// and its cooldown for the symbol has elapsed; firing records the cooldown
// immediately. A failing condition never halts evaluation of other rules.
func (e *Engine) Evaluate(snap domain.FeatureSnapshot, nowMs int64) []domain.TriggerEvent {
	e.mu.Lock()
	defer e.mu.Unlock()

	var fired []domain.TriggerEvent
	for _, rule := range e.set.Rules {
		if !conditionsHold(rule.Conditions, snap) {
			continue
		}

		key := cooldownKey{symbol: snap.Symbol, rule: rule.Name}
		cooldown := rule.CooldownMs
		if cooldown <= 0 {
			cooldown = e.set.DefaultCooldownMs
		}
		if last, ok := e.lastFired[key]; ok && nowMs-last < cooldown {
			observability.RecordCooldownSuppression(rule.Name)
			continue
		}

		e.lastFired[key] = nowMs
		observability.RecordRuleFired(rule.Name, snap.Symbol)
		fired = append(fired, domain.TriggerEvent{
			RuleName:  rule.Name,
			Category:  rule.Category,
			Symbol:    snap.Symbol,
			Snapshot:  snap,
			FiredAtMs: nowMs,
		})
	}
	return fired
}

// CooldownRemaining reports the milliseconds until the rule may fire again
// for the symbol, 0 when it is clear to fire.
func (e *Engine) CooldownRemaining(symbol, ruleName string, nowMs int64) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	last, ok := e.lastFired[cooldownKey{symbol: symbol, rule: ruleName}]
	if !ok {
		return 0
	}

	cooldown := e.set.DefaultCooldownMs
	for _, rule := range e.set.Rules {
		if rule.Name == ruleName && rule.CooldownMs > 0 {
			cooldown = rule.CooldownMs
			break
		}
	}

	remaining := cooldown - (nowMs - last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// conditionsHold evaluates the rule's conjunction. A condition on a field
// the snapshot does not know evaluates false, so a rule referencing a
// not-yet-populated feature never fires.
func conditionsHold(conds []domain.Condition, snap domain.FeatureSnapshot) bool {
	for _, cond := range conds {
		value, known := snap.Value(cond.Field)
		if !known {
			return false
		}
		if !cond.Op.Apply(value, cond.Threshold) {
			return false
		}
	}
	return true
}
