package feed

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"perpwatch/internal/observability"
)

// State is the feed connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribing
	StateStreaming
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Config configures the feed client.
type Config struct {
	// Endpoint is the websocket URL of the feed provider.
	Endpoint string
	// Symbols to subscribe on both channels.
	Symbols []string
	// MaxReconnectDelay caps the exponential backoff.
	MaxReconnectDelay time.Duration
	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration
	// ReadTimeout is the per-message read deadline.
	ReadTimeout time.Duration
	// WriteTimeout bounds subscription and ping writes.
	WriteTimeout time.Duration
	// PingInterval is the keepalive ping cadence.
	PingInterval time.Duration
}

// DefaultConfig returns the standard feed client configuration.
func DefaultConfig() Config {
	return Config{
		MaxReconnectDelay: 60 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		PingInterval:      30 * time.Second,
	}
}

// Client maintains the persistent feed connection as an explicit state
// machine: Disconnected -> Connecting -> Subscribing -> Streaming and back
// to Disconnected on any failure. Backoff sleeps are cancellable through
// the Run context so shutdown is deterministic.
type Client struct {
	cfg    Config
	sink   Sink
	logger *log.Logger
	state  atomic.Int32

	// sleep is swapped out by tests to observe backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a feed client forwarding parsed events to sink.
func NewClient(cfg Config, sink Sink, logger *log.Logger) *Client {
	def := DefaultConfig()
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = def.MaxReconnectDelay
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		sleep:  ctxSleep,
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
	observability.SetConnectionState(int(s))
}

// Run drives the connection until ctx is cancelled. Connection loss is
// never fatal: the client closes the socket, waits min(2^attempt, max)
// seconds and retries, re-issuing every subscription after reconnecting.
// The attempt counter resets to 1 once a connection reaches streaming.
func (c *Client) Run(ctx context.Context) error {
	attempt := 1
	for {
		if err := ctx.Err(); err != nil {
			c.setState(StateDisconnected)
			return err
		}

		conn, err := c.connectAndSubscribe(ctx)
		if err != nil {
			c.setState(StateDisconnected)
			delay := backoffDelay(attempt, c.cfg.MaxReconnectDelay)
			c.logger.Printf("[feed] connect attempt %d failed, retrying in %v: %v", attempt, delay, err)
			observability.RecordReconnect()
			attempt++
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
			continue
		}

		attempt = 1
		c.setState(StateStreaming)
		c.logger.Printf("[feed] streaming %d symbols from %s", len(c.cfg.Symbols), c.cfg.Endpoint)

		err = c.stream(ctx, conn)
		conn.Close()
		c.setState(StateDisconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := backoffDelay(attempt, c.cfg.MaxReconnectDelay)
		c.logger.Printf("[feed] connection lost, reconnecting in %v: %v", delay, err)
		observability.RecordReconnect()
		attempt++
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// connectAndSubscribe dials the endpoint and issues one subscribe message
// per (channel, symbol) pair.
func (c *Client) connectAndSubscribe(ctx context.Context) (*websocket.Conn, error) {
	c.setState(StateConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.Endpoint, nil)
	if err != nil {
		return nil, err
	}

	c.setState(StateSubscribing)
	for _, channel := range []string{ChannelTrades, ChannelContext} {
		for _, symbol := range c.cfg.Symbols {
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			req := subscribeRequest{Op: "subscribe", Channel: channel, Symbol: symbol}
			if err := conn.WriteJSON(req); err != nil {
				conn.Close()
				return nil, err
			}
		}
	}
	return conn, nil
}

// stream reads messages until the connection fails or ctx is cancelled.
// Parsing and forwarding complete before the next read, preserving
// per-symbol arrival order; malformed messages are logged and dropped.
func (c *Client) stream(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	var wg sync.WaitGroup
	// Deferred LIFO: done must close before waiting so both goroutines
	// can exit after a read error.
	defer wg.Wait()
	defer close(done)

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.pingLoop(ctx, conn, done)
	}()

	// Unblock the read when ctx is cancelled.
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleMessage(raw)
	}
}

// handleMessage parses and forwards one raw message.
func (c *Client) handleMessage(raw []byte) {
	trade, ctxEv, err := parseMessage(raw, time.Now())
	if err != nil {
		c.logger.Printf("[feed] dropping malformed message: %v", err)
		observability.RecordDroppedMessage("malformed")
		return
	}
	if trade != nil {
		c.sink.UpdateTrade(*trade)
		observability.RecordTradeMessage()
		return
	}
	c.sink.UpdateContext(*ctxEv)
	observability.RecordContextMessage()
}

// pingLoop sends keepalive pings until the connection's stream ends.
func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				// Reader sees the dead connection and reconnects.
				return
			}
		}
	}
}

// backoffDelay returns min(2^attempt, max) seconds; attempt starts at 1.
func backoffDelay(attempt int, max time.Duration) time.Duration {
	if attempt > 30 {
		return max
	}
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > max {
		return max
	}
	return d
}

// ctxSleep waits for d or until ctx is cancelled.
func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
