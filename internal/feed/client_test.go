package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"perpwatch/internal/domain"
)

// recordingSink collects forwarded events.
type recordingSink struct {
	mu       sync.Mutex
	trades   []domain.TradeEvent
	contexts []domain.ContextEvent
}

func (s *recordingSink) UpdateTrade(ev domain.TradeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, ev)
}

func (s *recordingSink) UpdateContext(ev domain.ContextEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts = append(s.contexts, ev)
}

func (s *recordingSink) tradeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trades)
}

func TestBackoffDelay(t *testing.T) {
	max := 60 * time.Second

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second}, // 64s capped
		{10, 60 * time.Second},
		{40, 60 * time.Second}, // shift-overflow guard
	}
	for _, tc := range cases {
		if got := backoffDelay(tc.attempt, max); got != tc.want {
			t.Errorf("attempt %d: got %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestNewClient_PartialConfigKeepsCallerValues(t *testing.T) {
	cfg := Config{
		Endpoint:    "ws://feed.example/ws",
		Symbols:     []string{"BTC-PERP"},
		ReadTimeout: 5 * time.Second,
	}
	client := NewClient(cfg, &recordingSink{}, nil)

	if client.cfg.ReadTimeout != 5*time.Second {
		t.Errorf("ReadTimeout overwritten: got %v", client.cfg.ReadTimeout)
	}
	def := DefaultConfig()
	if client.cfg.MaxReconnectDelay != def.MaxReconnectDelay {
		t.Errorf("MaxReconnectDelay: got %v, want %v", client.cfg.MaxReconnectDelay, def.MaxReconnectDelay)
	}
	if client.cfg.HandshakeTimeout != def.HandshakeTimeout {
		t.Errorf("HandshakeTimeout: got %v, want %v", client.cfg.HandshakeTimeout, def.HandshakeTimeout)
	}
	if client.cfg.PingInterval != def.PingInterval {
		t.Errorf("PingInterval: got %v, want %v", client.cfg.PingInterval, def.PingInterval)
	}
	if client.cfg.Endpoint != cfg.Endpoint || len(client.cfg.Symbols) != 1 {
		t.Errorf("Endpoint/Symbols lost: %+v", client.cfg)
	}
}

func TestStream_ReturnsAfterServerDrop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	client := NewClient(Config{Symbols: []string{"BTC-PERP"}}, &recordingSink{}, nil)

	dialer := websocket.Dialer{HandshakeTimeout: time.Second}
	conn, _, err := dialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	done := make(chan error, 1)
	go func() { done <- client.stream(context.Background(), conn) }()

	select {
	case err := <-done:
		if err == nil {
			t.Error("stream should surface the read error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream never returned after the server dropped the connection")
	}
}

func TestRun_BackoffSequenceOnConnectFailure(t *testing.T) {
	// Plain HTTP server: every websocket dial fails at the handshake.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no websocket here", http.StatusBadRequest)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Endpoint = "ws" + strings.TrimPrefix(srv.URL, "http")
	cfg.Symbols = []string{"BTC-PERP"}

	client := NewClient(cfg, &recordingSink{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	var delays []time.Duration
	client.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		if len(delays) == 3 {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	if err := client.Run(ctx); err == nil {
		t.Fatal("Run should return the cancellation error")
	}

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("Expected %d delays, got %v", len(want), delays)
	}
	for i, d := range delays {
		if d != want[i] {
			t.Errorf("delay %d: got %v, want %v", i, d, want[i])
		}
	}
	if client.State() != StateDisconnected {
		t.Errorf("State after shutdown: got %s", client.State())
	}
}

// wsTestServer upgrades connections, records subscriptions, optionally
// feeds messages, then drops the connection.
type wsTestServer struct {
	t  *testing.T
	mu sync.Mutex
	// subscriptions per accepted connection
	subs [][]subscribeRequest
	// messages pushed to every connection after its subscriptions arrive
	payloads []string
	// connAccepted signals each completed subscription phase
	connAccepted chan struct{}
}

func (s *wsTestServer) handler(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var subs []subscribeRequest
	// Two channels per symbol.
	for i := 0; i < 2; i++ {
		var req subscribeRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		subs = append(subs, req)
	}

	s.mu.Lock()
	s.subs = append(s.subs, subs)
	s.mu.Unlock()

	for _, p := range s.payloads {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(p)); err != nil {
			return
		}
	}
	s.connAccepted <- struct{}{}

	// Hold the connection until the client goes away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestRun_SubscribesAndForwards(t *testing.T) {
	server := &wsTestServer{
		t:            t,
		connAccepted: make(chan struct{}, 4),
		payloads: []string{
			`{"channel":"trades","symbol":"BTC-PERP","data":{"price":65000,"size":1,"side":"buy","ts":1}}`,
			`{"channel":"periodic-context","symbol":"BTC-PERP","data":{"open_interest":10,"funding_rate":0.0001,"oracle_price":64990,"ts":2}}`,
			`this is not json`,
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(server.handler))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Endpoint = "ws" + strings.TrimPrefix(srv.URL, "http")
	cfg.Symbols = []string{"BTC-PERP"}

	sink := &recordingSink{}
	client := NewClient(cfg, sink, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	select {
	case <-server.connAccepted:
	case <-ctx.Done():
		t.Fatal("server never accepted a subscription")
	}

	// Forwarding is synchronous with the read loop but the test observes
	// it from outside; poll briefly.
	deadline := time.Now().Add(2 * time.Second)
	for sink.tradeCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	<-done

	server.mu.Lock()
	defer server.mu.Unlock()
	if len(server.subs) < 1 {
		t.Fatal("Expected at least one subscribed connection")
	}
	seen := map[string]bool{}
	for _, req := range server.subs[0] {
		if req.Op != "subscribe" || req.Symbol != "BTC-PERP" {
			t.Errorf("Unexpected subscription %+v", req)
		}
		seen[req.Channel] = true
	}
	if !seen[ChannelTrades] || !seen[ChannelContext] {
		t.Errorf("Expected both channels subscribed, got %v", seen)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.trades) != 1 {
		t.Fatalf("Expected 1 trade forwarded, got %d", len(sink.trades))
	}
	if sink.trades[0].Price != 65000 {
		t.Errorf("Trade price: got %f", sink.trades[0].Price)
	}
	if len(sink.contexts) != 1 {
		t.Fatalf("Expected 1 context event forwarded (malformed dropped), got %d", len(sink.contexts))
	}
}

func TestRun_ResubscribesAfterReconnect(t *testing.T) {
	server := &wsTestServer{t: t, connAccepted: make(chan struct{}, 4)}

	var dropOnce sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var first bool
		dropOnce.Do(func() { first = true })
		if first {
			// First connection: accept subscriptions then drop immediately.
			upgrader := websocket.Upgrader{}
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			for i := 0; i < 2; i++ {
				var req subscribeRequest
				if err := conn.ReadJSON(&req); err != nil {
					return
				}
			}
			conn.Close()
			return
		}
		server.handler(w, r)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Endpoint = "ws" + strings.TrimPrefix(srv.URL, "http")
	cfg.Symbols = []string{"BTC-PERP"}

	client := NewClient(cfg, &recordingSink{}, nil)
	// Skip real backoff sleeps.
	client.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	select {
	case <-server.connAccepted:
	case <-ctx.Done():
		t.Fatal("client never resubscribed after the dropped connection")
	}

	cancel()
	<-done

	server.mu.Lock()
	defer server.mu.Unlock()
	if len(server.subs) < 1 {
		t.Fatal("Expected resubscription on the second connection")
	}
	seen := map[string]bool{}
	for _, req := range server.subs[0] {
		seen[req.Channel] = true
	}
	if !seen[ChannelTrades] || !seen[ChannelContext] {
		t.Errorf("Resubscription missing channels: %v", seen)
	}
}
