package rules

import (
	"os"
	"path/filepath"
	"testing"

	"perpwatch/internal/domain"
)

const sampleDoc = `
default_cooldown_sec: 120
rules:
  oi_spike_squeeze_down:
    when_all:
      oi_delta_5m_pct_gt: 0.5
      cvd_slope_1m_lt: -0.3
      funding_bp_gt: 1.0
    actions: [dispatch_order, notify_workflow]
  breakout_continuation:
    when_all:
      cvd_slope_1m_gt: 0.3
      trade_burst_eq: true
    actions: [dispatch_order]
    cooldown_sec: 60
`

func TestParse_Document(t *testing.T) {
	set, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if set.DefaultCooldownMs != 120_000 {
		t.Errorf("DefaultCooldownMs: got %d, want 120000", set.DefaultCooldownMs)
	}
	if len(set.Rules) != 2 {
		t.Fatalf("Expected 2 rules, got %d", len(set.Rules))
	}

	// Rules come back in lexical name order.
	breakout := set.Rules[0]
	if breakout.Name != "breakout_continuation" {
		t.Fatalf("Expected breakout_continuation first, got %s", breakout.Name)
	}
	if breakout.Category != domain.CategoryBreakout {
		t.Errorf("Category: got %s, want breakout", breakout.Category)
	}
	if breakout.CooldownMs != 60_000 {
		t.Errorf("CooldownMs: got %d, want 60000", breakout.CooldownMs)
	}

	squeeze := set.Rules[1]
	if squeeze.Category != domain.CategorySqueezeDown {
		t.Errorf("Category: got %s, want squeeze_down", squeeze.Category)
	}
	if squeeze.CooldownMs != 0 {
		t.Errorf("Expected unset per-rule cooldown, got %d", squeeze.CooldownMs)
	}
	if len(squeeze.Conditions) != 3 {
		t.Fatalf("Expected 3 conditions, got %d", len(squeeze.Conditions))
	}
}

func TestParse_ConditionSuffixes(t *testing.T) {
	cases := []struct {
		key       string
		wantField string
		wantOp    domain.Operator
	}{
		{"funding_bp_gt", "funding_bp", domain.OpGT},
		{"cvd_slope_1m_lt", "cvd_slope_1m", domain.OpLT},
		{"ls_ratio_ge", "ls_ratio", domain.OpGE},
		{"basis_bps_le", "basis_bps", domain.OpLE},
		{"trade_burst_eq", "trade_burst", domain.OpEQ},
		{"last_price_ne", "last_price", domain.OpNE},
		{"trade_burst", "trade_burst", domain.OpEQ}, // no suffix defaults to equality
	}

	for _, tc := range cases {
		cond := parseConditionKey(tc.key, 1)
		if cond.Field != tc.wantField {
			t.Errorf("%s: field got %s, want %s", tc.key, cond.Field, tc.wantField)
		}
		if cond.Op != tc.wantOp {
			t.Errorf("%s: op got %s, want %s", tc.key, cond.Op, tc.wantOp)
		}
	}
}

func TestParse_BooleanThreshold(t *testing.T) {
	set, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	var found bool
	for _, cond := range set.Rules[0].Conditions {
		if cond.Field == domain.FieldTradeBurst {
			found = true
			if cond.Threshold != 1 {
				t.Errorf("true should coerce to 1, got %f", cond.Threshold)
			}
		}
	}
	if !found {
		t.Fatal("trade_burst condition missing")
	}
}

func TestParse_InvalidDocumentFallsBack(t *testing.T) {
	cases := map[string]string{
		"malformed yaml":     "rules: [not a map",
		"no rules":           "default_cooldown_sec: 60",
		"empty when_all":     "rules:\n  r1:\n    when_all: {}\n",
		"string threshold":   "rules:\n  r1:\n    when_all:\n      funding_bp_gt: high\n",
	}

	for name, doc := range cases {
		set, err := Parse([]byte(doc))
		if err == nil {
			t.Errorf("%s: expected error", name)
		}
		if len(set.Rules) != len(DefaultSet().Rules) {
			t.Errorf("%s: expected default set on error, got %d rules", name, len(set.Rules))
		}
	}
}

func TestLoad_MissingFileFallsBack(t *testing.T) {
	set, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Error("expected error for missing file")
	}
	if len(set.Rules) == 0 {
		t.Error("expected default rules on missing file")
	}
}

func TestLoad_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(sampleDoc), 0o644); err != nil {
		t.Fatal(err)
	}

	set, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(set.Rules) != 2 {
		t.Errorf("Expected 2 rules, got %d", len(set.Rules))
	}
}

func TestDefaultSet_Categories(t *testing.T) {
	set := DefaultSet()
	if len(set.Rules) != 4 {
		t.Fatalf("Expected 4 default rules, got %d", len(set.Rules))
	}

	want := map[string]domain.RuleCategory{
		"oi_spike_squeeze_down": domain.CategorySqueezeDown,
		"oi_spike_squeeze_up":   domain.CategorySqueezeUp,
		"basis_fade":            domain.CategoryFade,
		"breakout_continuation": domain.CategoryBreakout,
	}
	for _, rule := range set.Rules {
		if rule.Category != want[rule.Name] {
			t.Errorf("%s: category got %s, want %s", rule.Name, rule.Category, want[rule.Name])
		}
	}
}
