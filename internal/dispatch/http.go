package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"perpwatch/internal/domain"
)

const collaboratorTimeout = 10 * time.Second

// HTTPOrderSink posts order intents to the order-placement collaborator.
type HTTPOrderSink struct {
	endpoint string
	client   *http.Client
}

// NewHTTPOrderSink creates an HTTP order sink.
func NewHTTPOrderSink(endpoint string) *HTTPOrderSink {
	return &HTTPOrderSink{
		endpoint: endpoint,
		client:   &http.Client{Timeout: collaboratorTimeout},
	}
}

// orderIntentWire is the order-intent emission contract.
type orderIntentWire struct {
	Symbol          string  `json:"symbol"`
	Side            string  `json:"side"`
	SizeMultiplier  float64 `json:"size_multiplier"`
	TakeProfitATR   float64 `json:"take_profit_atr"`
	StopLossATR     float64 `json:"stop_loss_atr"`
	OriginatingRule string  `json:"originating_rule"`
}

// PlaceIntent posts one order intent. A non-2xx status is an error; the
// caller owns the at-most-once semantics and never retries.
func (s *HTTPOrderSink) PlaceIntent(ctx context.Context, intent domain.OrderIntent) error {
	body, err := json.Marshal(orderIntentWire{
		Symbol:          intent.Symbol,
		Side:            string(intent.Side),
		SizeMultiplier:  intent.SizeMultiplier,
		TakeProfitATR:   intent.TakeProfitATR,
		StopLossATR:     intent.StopLossATR,
		OriginatingRule: intent.OriginatingRule,
	})
	if err != nil {
		return fmt.Errorf("marshal order intent: %w", err)
	}
	return post(ctx, s.client, s.endpoint, body)
}

// HTTPNotifier posts workflow notifications.
type HTTPNotifier struct {
	endpoint string
	client   *http.Client
}

// NewHTTPNotifier creates an HTTP workflow notifier.
func NewHTTPNotifier(endpoint string) *HTTPNotifier {
	return &HTTPNotifier{
		endpoint: endpoint,
		client:   &http.Client{Timeout: collaboratorTimeout},
	}
}

// Notify posts the notification once. No response body is awaited beyond
// the status code.
func (n *HTTPNotifier) Notify(ctx context.Context, notification Notification) error {
	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return post(ctx, n.client, n.endpoint, body)
}

func post(ctx context.Context, client *http.Client, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("collaborator status %d", resp.StatusCode)
	}
	return nil
}
