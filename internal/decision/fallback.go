package decision

import (
	"fmt"
	"math"

	"perpwatch/internal/domain"
)

// FallbackConfig holds the confluence thresholds and the action table
// cutoffs for the local scorer. The values are empirically chosen
// operating parameters.
type FallbackConfig struct {
	CVDSlopeAbs  float64 // |cvd_slope_1m| threshold
	OIDeltaAbs   float64 // |oi_delta_5m_pct| threshold
	VWAPZAbs     float64 // |vwap_z_1m| threshold
	ConfirmCount int     // confluent signals for confirm
	ModifyCount  int     // confluent signals for modify
}

// DefaultFallbackConfig returns the standard fallback table.
func DefaultFallbackConfig() FallbackConfig {
	return FallbackConfig{
		CVDSlopeAbs:  0.3,
		OIDeltaAbs:   0.5,
		VWAPZAbs:     1.5,
		ConfirmCount: 3,
		ModifyCount:  2,
	}
}

// Fallback take-profit/stop-loss ATR multiples.
const (
	squeezeTakeProfitATR = 1.5
	defaultTakeProfitATR = 1.0
	fallbackStopLossATR  = 0.7
)

// FallbackVerdict computes the deterministic local verdict for a trigger.
// It counts confluent signals and maps the count through a fixed action
// table: >= ConfirmCount -> confirm 0.7 size 1.0, == ModifyCount ->
// modify 0.5 size 0.5, below -> cancel 0.3 size 0.
func FallbackVerdict(ev domain.TriggerEvent, cfg FallbackConfig) domain.DecisionVerdict {
	snap := ev.Snapshot

	confluence := 0
	if math.Abs(snap.CVDSlope1m) > cfg.CVDSlopeAbs {
		confluence++
	}
	if math.Abs(snap.OIDelta5mPct) > cfg.OIDeltaAbs {
		confluence++
	}
	if math.Abs(snap.VWAPZ1m) > cfg.VWAPZAbs {
		confluence++
	}
	if snap.TradeBurst {
		confluence++
	}

	verdict := domain.DecisionVerdict{
		TakeProfitATR:           defaultTakeProfitATR,
		StopLossATR:             fallbackStopLossATR,
		Reasoning:               fmt.Sprintf("local fallback: %d/4 confluent signals for %s", confluence, ev.RuleName),
		ContinuationProbability: float64(confluence) / 4,
		Fallback:                true,
	}
	if ev.Category.IsSqueeze() {
		verdict.TakeProfitATR = squeezeTakeProfitATR
	}

	switch {
	case confluence >= cfg.ConfirmCount:
		verdict.Action = domain.ActionConfirm
		verdict.Confidence = 0.7
		verdict.SizeAdjustment = 1.0
	case confluence == cfg.ModifyCount:
		verdict.Action = domain.ActionModify
		verdict.Confidence = 0.5
		verdict.SizeAdjustment = 0.5
	default:
		verdict.Action = domain.ActionCancel
		verdict.Confidence = 0.3
		verdict.SizeAdjustment = 0
	}
	return verdict
}
