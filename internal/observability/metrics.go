// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the trigger engine.
type Metrics struct {
	// Feed metrics
	TradeMessagesProcessed   prometheus.Counter
	ContextMessagesProcessed prometheus.Counter
	MessagesDropped          *prometheus.CounterVec
	FeedReconnects           prometheus.Counter
	FeedConnectionState      prometheus.Gauge

	// Rule engine metrics
	RulesFired           *prometheus.CounterVec
	CooldownSuppressions *prometheus.CounterVec

	// Decision metrics
	DecisionFallbacks *prometheus.CounterVec
	DecisionLatency   prometheus.Histogram
	DecisionVerdicts  *prometheus.CounterVec

	// Dispatch metrics
	OrderIntentsEmitted   *prometheus.CounterVec
	DispatchFailures      *prometheus.CounterVec
	WorkflowNotifications *prometheus.CounterVec

	// Scheduler metrics
	TickDuration prometheus.Histogram
	TicksSkipped prometheus.Counter
	SymbolsSeen  prometheus.Gauge

	// Storage metrics
	StoreWriteErrors *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "perpwatch"
	}

	return &Metrics{
		TradeMessagesProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "trade_messages_processed_total",
			Help:      "Total number of trade messages parsed and forwarded",
		}),
		ContextMessagesProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "context_messages_processed_total",
			Help:      "Total number of context messages parsed and forwarded",
		}),
		MessagesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "messages_dropped_total",
			Help:      "Total number of malformed feed messages dropped",
		}, []string{"reason"}),
		FeedReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Total number of feed reconnect attempts",
		}),
		FeedConnectionState: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "connection_state",
			Help:      "Feed connection state (0=disconnected 1=connecting 2=subscribing 3=streaming)",
		}),

		RulesFired: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "fired_total",
			Help:      "Total number of rule firings",
		}, []string{"rule", "symbol"}),
		CooldownSuppressions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "cooldown_suppressions_total",
			Help:      "Rule evaluations skipped because of an active cooldown",
		}, []string{"rule"}),

		DecisionFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decision",
			Name:      "fallbacks_total",
			Help:      "Decisions resolved by the local fallback scorer",
		}, []string{"reason"}),
		DecisionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "decision",
			Name:      "latency_seconds",
			Help:      "End-to-end decision latency including fallback",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}),
		DecisionVerdicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decision",
			Name:      "verdicts_total",
			Help:      "Decision verdicts by action",
		}, []string{"action"}),

		OrderIntentsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "order_intents_total",
			Help:      "Order intents emitted to the order-placement collaborator",
		}, []string{"symbol", "side"}),
		DispatchFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "failures_total",
			Help:      "Failed order-intent emissions",
		}, []string{"kind"}),
		WorkflowNotifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "workflow_notifications_total",
			Help:      "Workflow notification attempts by outcome",
		}, []string{"status"}),

		TickDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Duration of one full evaluation tick",
			Buckets:   prometheus.DefBuckets,
		}),
		TicksSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "ticks_skipped_total",
			Help:      "Evaluation ticks skipped because the previous tick was still running",
		}),
		SymbolsSeen: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "symbols_tracked",
			Help:      "Symbols with at least one observed event",
		}),

		StoreWriteErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "write_errors_total",
			Help:      "Best-effort persistence failures by store",
		}, []string{"store"}),
	}
}

// Handler returns an http.Handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the global metrics instance used by package-level helpers.
var DefaultMetrics = NewMetrics("")

// RecordTradeMessage increments the trade message counter.
func RecordTradeMessage() {
	DefaultMetrics.TradeMessagesProcessed.Inc()
}

// RecordContextMessage increments the context message counter.
func RecordContextMessage() {
	DefaultMetrics.ContextMessagesProcessed.Inc()
}

// RecordDroppedMessage increments the dropped message counter.
func RecordDroppedMessage(reason string) {
	DefaultMetrics.MessagesDropped.WithLabelValues(reason).Inc()
}

// RecordReconnect increments the reconnect counter.
func RecordReconnect() {
	DefaultMetrics.FeedReconnects.Inc()
}

// SetConnectionState updates the feed connection state gauge.
func SetConnectionState(state int) {
	DefaultMetrics.FeedConnectionState.Set(float64(state))
}

// RecordRuleFired increments the fired counter for a rule.
func RecordRuleFired(rule, symbol string) {
	DefaultMetrics.RulesFired.WithLabelValues(rule, symbol).Inc()
}

// RecordCooldownSuppression increments the cooldown skip counter.
func RecordCooldownSuppression(rule string) {
	DefaultMetrics.CooldownSuppressions.WithLabelValues(rule).Inc()
}

// RecordDecision records verdict action, latency and fallback reason
// ("" when the external collaborator answered).
func RecordDecision(action string, seconds float64, fallbackReason string) {
	DefaultMetrics.DecisionVerdicts.WithLabelValues(action).Inc()
	DefaultMetrics.DecisionLatency.Observe(seconds)
	if fallbackReason != "" {
		DefaultMetrics.DecisionFallbacks.WithLabelValues(fallbackReason).Inc()
	}
}

// RecordOrderIntent increments the emitted order-intent counter.
func RecordOrderIntent(symbol, side string) {
	DefaultMetrics.OrderIntentsEmitted.WithLabelValues(symbol, side).Inc()
}

// RecordDispatchFailure increments the dispatch failure counter.
func RecordDispatchFailure(kind string) {
	DefaultMetrics.DispatchFailures.WithLabelValues(kind).Inc()
}

// RecordWorkflowNotification records one notification attempt outcome.
func RecordWorkflowNotification(status string) {
	DefaultMetrics.WorkflowNotifications.WithLabelValues(status).Inc()
}

// RecordTick records one completed evaluation tick.
func RecordTick(seconds float64, symbols int) {
	DefaultMetrics.TickDuration.Observe(seconds)
	DefaultMetrics.SymbolsSeen.Set(float64(symbols))
}

// RecordTickSkipped increments the overlapping-tick skip counter.
func RecordTickSkipped() {
	DefaultMetrics.TicksSkipped.Inc()
}

// RecordStoreWriteError increments the persistence failure counter.
func RecordStoreWriteError(store string) {
	DefaultMetrics.StoreWriteErrors.WithLabelValues(store).Inc()
}
