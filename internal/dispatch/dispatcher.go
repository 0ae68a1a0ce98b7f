// Package dispatch turns decision verdicts into order-intent records for
// the order-placement collaborator and best-effort notifications for the
// analysis workflow collaborator.
package dispatch

import (
	"context"
	"fmt"
	"log"

	"perpwatch/internal/domain"
	"perpwatch/internal/observability"
)

// OrderSink is the external order-placement collaborator. Emission is
// at-most-once: a failed attempt is logged and never retried, to avoid
// duplicate order intents.
type OrderSink interface {
	PlaceIntent(ctx context.Context, intent domain.OrderIntent) error
}

// Notifier is the one-way analysis-workflow collaborator.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Notification is the workflow payload: trigger name, timestamp, symbol
// and the full feature map.
type Notification struct {
	Trigger   string         `json:"trigger"`
	Timestamp int64          `json:"timestamp"`
	Symbol    string         `json:"symbol"`
	Features  map[string]any `json:"features"`
}

// NotificationStatus is the observable completion status of the one-shot
// notification task.
type NotificationStatus struct {
	Delivered bool
	Err       error
}

// Dispatcher coordinates order emission and workflow notification for one
// confirmed trigger.
type Dispatcher struct {
	orders   OrderSink
	notifier Notifier
	logger   *log.Logger
}

// NewDispatcher creates a dispatcher. Either collaborator may be nil, in
// which case that half is skipped (useful for replay and tests).
func NewDispatcher(orders OrderSink, notifier Notifier, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{orders: orders, notifier: notifier, logger: logger}
}

// Dispatch emits the order intent implied by the verdict and fires the
// workflow notification. Cancel verdicts emit no intent but still notify
// the workflow. The returned channel reports the notification outcome
// exactly once; order emission errors are returned directly.
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.TriggerEvent, verdict domain.DecisionVerdict) (*domain.OrderIntent, <-chan NotificationStatus, error) {
	statusCh := d.notify(ctx, ev)

	if verdict.Action == domain.ActionCancel {
		d.logger.Printf("[dispatch] %s/%s cancelled by verdict (%s)", ev.Symbol, ev.RuleName, verdict.Reasoning)
		return nil, statusCh, nil
	}

	intent := domain.OrderIntent{
		Symbol:          ev.Symbol,
		Side:            IntentSide(ev.Category, ev.Snapshot),
		SizeMultiplier:  verdict.SizeAdjustment,
		TakeProfitATR:   verdict.TakeProfitATR,
		StopLossATR:     verdict.StopLossATR,
		OriginatingRule: ev.RuleName,
		CreatedAtMs:     ev.FiredAtMs,
	}

	if d.orders != nil {
		if err := d.orders.PlaceIntent(ctx, intent); err != nil {
			observability.RecordDispatchFailure("order_sink")
			return nil, statusCh, fmt.Errorf("emit order intent %s/%s: %w", intent.Symbol, intent.OriginatingRule, err)
		}
		observability.RecordOrderIntent(intent.Symbol, string(intent.Side))
	}
	return &intent, statusCh, nil
}

// notify launches the single-attempt workflow notification. Failures are
// logged and surface only through the status channel.
func (d *Dispatcher) notify(ctx context.Context, ev domain.TriggerEvent) <-chan NotificationStatus {
	statusCh := make(chan NotificationStatus, 1)

	if d.notifier == nil {
		statusCh <- NotificationStatus{Delivered: false}
		return statusCh
	}

	n := Notification{
		Trigger:   ev.RuleName,
		Timestamp: ev.FiredAtMs,
		Symbol:    ev.Symbol,
		Features:  ev.Snapshot.FeatureMap(),
	}

	go func() {
		err := d.notifier.Notify(ctx, n)
		if err != nil {
			d.logger.Printf("[dispatch] workflow notification failed for %s/%s: %v", ev.Symbol, ev.RuleName, err)
			observability.RecordWorkflowNotification("failure")
			statusCh <- NotificationStatus{Err: err}
			return
		}
		observability.RecordWorkflowNotification("success")
		statusCh <- NotificationStatus{Delivered: true}
	}()
	return statusCh
}

// IntentSide maps a rule category and snapshot to the order side. Squeeze
// categories imply their direction, fades take the side opposite the vwap
// extension, and breakout side follows the sign of the 1m cvd slope.
func IntentSide(category domain.RuleCategory, snap domain.FeatureSnapshot) domain.Side {
	switch category {
	case domain.CategorySqueezeDown:
		return domain.SideSell
	case domain.CategorySqueezeUp:
		return domain.SideBuy
	case domain.CategoryFade:
		if snap.VWAPZ1m >= 0 {
			return domain.SideSell
		}
		return domain.SideBuy
	default:
		if snap.CVDSlope1m >= 0 {
			return domain.SideBuy
		}
		return domain.SideSell
	}
}
