package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"perpwatch/internal/domain"
	"perpwatch/internal/observability"
)

// DefaultTimeout is the hard upper bound on one decision call including
// the local fallback.
const DefaultTimeout = 20 * time.Second

// Client is the external decision collaborator.
type Client interface {
	Decide(ctx context.Context, req Request) (Response, error)
}

// HTTPClient implements Client over a plain JSON POST endpoint.
type HTTPClient struct {
	endpoint string
	client   *http.Client
}

// NewHTTPClient creates a decision-service client. The per-call deadline
// comes from the gateway's context, not the http.Client.
func NewHTTPClient(endpoint string) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{},
	}
}

// Decide posts the request and decodes the structured verdict.
func (c *HTTPClient) Decide(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal decision request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("build decision request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("decision service call: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, httpResp.Body)
		return Response{}, fmt.Errorf("decision service status %d", httpResp.StatusCode)
	}

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("decode decision response: %w", err)
	}
	return resp, nil
}

// Gateway produces a verdict for every fired trigger. The external call is
// bounded by Timeout; on error, timeout or malformed output the
// deterministic local fallback applies, so Decide always returns.
type Gateway struct {
	client   Client
	timeout  time.Duration
	fallback FallbackConfig
	logger   *log.Logger
}

// Options configures a Gateway.
type Options struct {
	Client   Client        // nil means fallback-only operation
	Timeout  time.Duration // 0 means DefaultTimeout
	Fallback FallbackConfig
	Logger   *log.Logger
}

// NewGateway creates a decision gateway.
func NewGateway(opts Options) *Gateway {
	g := &Gateway{
		client:   opts.Client,
		timeout:  opts.Timeout,
		fallback: opts.Fallback,
		logger:   opts.Logger,
	}
	if g.timeout <= 0 {
		g.timeout = DefaultTimeout
	}
	if g.fallback.ConfirmCount == 0 {
		g.fallback = DefaultFallbackConfig()
	}
	if g.logger == nil {
		g.logger = log.Default()
	}
	return g
}

// Decide returns a verdict for the trigger within the gateway's timeout.
func (g *Gateway) Decide(ctx context.Context, ev domain.TriggerEvent) domain.DecisionVerdict {
	start := time.Now()

	if g.client == nil {
		verdict := FallbackVerdict(ev, g.fallback)
		observability.RecordDecision(string(verdict.Action), time.Since(start).Seconds(), "no_client")
		return verdict
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.Decide(callCtx, NewRequest(ev))
	if err != nil {
		g.logger.Printf("[decision] %s/%s: falling back: %v", ev.Symbol, ev.RuleName, err)
		verdict := FallbackVerdict(ev, g.fallback)
		observability.RecordDecision(string(verdict.Action), time.Since(start).Seconds(), "call_error")
		return verdict
	}

	verdict, ok := resp.Verdict()
	if !ok {
		g.logger.Printf("[decision] %s/%s: malformed response action=%q, falling back", ev.Symbol, ev.RuleName, resp.Action)
		verdict = FallbackVerdict(ev, g.fallback)
		observability.RecordDecision(string(verdict.Action), time.Since(start).Seconds(), "malformed_response")
		return verdict
	}

	observability.RecordDecision(string(verdict.Action), time.Since(start).Seconds(), "")
	return verdict
}
