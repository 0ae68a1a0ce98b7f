// Package decision requests confirm/cancel/modify verdicts for fired
// triggers from an external decision collaborator, with a deterministic
// local fallback bounded by a hard timeout.
package decision

import "perpwatch/internal/domain"

// Request is the decision-request wire format.
type Request struct {
	Trigger   string         `json:"trigger"`
	Timestamp int64          `json:"timestamp"`
	Symbol    string         `json:"symbol"`
	Features  map[string]any `json:"features"`
}

// NewRequest builds the wire request for a trigger event.
func NewRequest(ev domain.TriggerEvent) Request {
	return Request{
		Trigger:   ev.RuleName,
		Timestamp: ev.FiredAtMs,
		Symbol:    ev.Symbol,
		Features:  ev.Snapshot.FeatureMap(),
	}
}

// Snapshot reconstructs the feature snapshot carried by the request.
func (r Request) Snapshot() domain.FeatureSnapshot {
	return domain.SnapshotFromMap(r.Symbol, r.Timestamp, r.Features)
}

// Response is the decision-service wire response.
type Response struct {
	Action                  string  `json:"action"`
	Confidence              float64 `json:"confidence"`
	SizeAdjustment          float64 `json:"size_adjustment"`
	TakeProfitATR           float64 `json:"take_profit_atr"`
	StopLossATR             float64 `json:"stop_loss_atr"`
	Reasoning               string  `json:"reasoning"`
	ContinuationProbability float64 `json:"continuation_probability"`
}

// Verdict converts the response into a domain verdict. Returns false when
// the response is malformed (unknown action or out-of-range confidence),
// in which case the caller falls back to the local scorer.
func (r Response) Verdict() (domain.DecisionVerdict, bool) {
	action := domain.VerdictAction(r.Action)
	if !action.Valid() {
		return domain.DecisionVerdict{}, false
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return domain.DecisionVerdict{}, false
	}
	return domain.DecisionVerdict{
		Action:                  action,
		Confidence:              r.Confidence,
		SizeAdjustment:          r.SizeAdjustment,
		TakeProfitATR:           r.TakeProfitATR,
		StopLossATR:             r.StopLossATR,
		Reasoning:               r.Reasoning,
		ContinuationProbability: r.ContinuationProbability,
	}, true
}
