package domain

// FeatureSnapshot is an immutable per-symbol feature vector computed at an
// evaluation tick. Consumed by the rule engine and the decision gateway,
// discarded after the tick.
type FeatureSnapshot struct {
	Symbol      string
	TimestampMs int64 // Unix timestamp in milliseconds

	CVDSlope1m   float64 // (cvd[-1] - cvd[-60]) / 60, 0 if insufficient history
	CVDSlope5m   float64 // (cvd[-1] - cvd[-300]) / 300, 0 if insufficient history
	OIDelta5mPct float64 // open-interest % change over the 5m lookback
	FundingBp    float64 // funding rate in basis points
	BasisBps     float64 // (lastPrice - oraclePrice) / oraclePrice * 10000
	LSRatio      float64 // long/short ratio from external collaborator, 1.0 neutral
	VWAPZ1m      float64 // vwap z-score from external collaborator, 0 neutral
	TradeBurst   bool    // trades in last 10s exceeded the burst threshold
	LastPrice    float64 // most recent traded price
}

// Snapshot field names as referenced by rule conditions and the decision
// request wire format.
const (
	FieldCVDSlope1m   = "cvd_slope_1m"
	FieldCVDSlope5m   = "cvd_slope_5m"
	FieldOIDelta5mPct = "oi_delta_5m_pct"
	FieldFundingBp    = "funding_bp"
	FieldBasisBps     = "basis_bps"
	FieldLSRatio      = "ls_ratio"
	FieldVWAPZ1m      = "vwap_z_1m"
	FieldTradeBurst   = "trade_burst"
	FieldLastPrice    = "last_price"
)

// Value returns the named feature as a float64. Boolean features map to
// 1/0. Unknown fields return (0, false); the rule engine treats a
// condition on an unknown field as failed.
func (s FeatureSnapshot) Value(field string) (float64, bool) {
	switch field {
	case FieldCVDSlope1m:
		return s.CVDSlope1m, true
	case FieldCVDSlope5m:
		return s.CVDSlope5m, true
	case FieldOIDelta5mPct:
		return s.OIDelta5mPct, true
	case FieldFundingBp:
		return s.FundingBp, true
	case FieldBasisBps:
		return s.BasisBps, true
	case FieldLSRatio:
		return s.LSRatio, true
	case FieldVWAPZ1m:
		return s.VWAPZ1m, true
	case FieldTradeBurst:
		if s.TradeBurst {
			return 1, true
		}
		return 0, true
	case FieldLastPrice:
		return s.LastPrice, true
	default:
		return 0, false
	}
}

// FeatureMap returns the snapshot as a name->value map for the decision
// request and workflow notification payloads.
func (s FeatureSnapshot) FeatureMap() map[string]any {
	return map[string]any{
		FieldCVDSlope1m:   s.CVDSlope1m,
		FieldCVDSlope5m:   s.CVDSlope5m,
		FieldOIDelta5mPct: s.OIDelta5mPct,
		FieldFundingBp:    s.FundingBp,
		FieldBasisBps:     s.BasisBps,
		FieldLSRatio:      s.LSRatio,
		FieldVWAPZ1m:      s.VWAPZ1m,
		FieldTradeBurst:   s.TradeBurst,
		FieldLastPrice:    s.LastPrice,
	}
}

// SnapshotFromMap reconstructs a FeatureSnapshot from a feature map, the
// inverse of FeatureMap. Missing keys leave zero values.
func SnapshotFromMap(symbol string, timestampMs int64, features map[string]any) FeatureSnapshot {
	s := FeatureSnapshot{Symbol: symbol, TimestampMs: timestampMs}
	for k, v := range features {
		switch k {
		case FieldTradeBurst:
			if b, ok := v.(bool); ok {
				s.TradeBurst = b
			}
			continue
		}
		f, ok := asFloat(v)
		if !ok {
			continue
		}
		switch k {
		case FieldCVDSlope1m:
			s.CVDSlope1m = f
		case FieldCVDSlope5m:
			s.CVDSlope5m = f
		case FieldOIDelta5mPct:
			s.OIDelta5mPct = f
		case FieldFundingBp:
			s.FundingBp = f
		case FieldBasisBps:
			s.BasisBps = f
		case FieldLSRatio:
			s.LSRatio = f
		case FieldVWAPZ1m:
			s.VWAPZ1m = f
		case FieldLastPrice:
			s.LastPrice = f
		}
	}
	return s
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
