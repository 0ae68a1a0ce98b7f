package feed

import (
	"testing"
	"time"

	"perpwatch/internal/domain"
)

func TestParseMessage_Trade(t *testing.T) {
	raw := []byte(`{"channel":"trades","symbol":"BTC-PERP","data":{"price":65000.5,"size":0.25,"side":"buy","ts":1700000000000}}`)

	trade, ctxEv, err := parseMessage(raw, time.Now())
	if err != nil {
		t.Fatalf("parseMessage failed: %v", err)
	}
	if ctxEv != nil {
		t.Fatal("Expected no context event for a trade message")
	}
	if trade.Symbol != "BTC-PERP" || trade.Price != 65000.5 || trade.Size != 0.25 {
		t.Errorf("Trade fields wrong: %+v", trade)
	}
	if trade.Side != domain.SideBuy {
		t.Errorf("Side: got %s, want buy", trade.Side)
	}
	if trade.TimestampMs != 1700000000000 {
		t.Errorf("TimestampMs: got %d", trade.TimestampMs)
	}
}

func TestParseMessage_Context(t *testing.T) {
	raw := []byte(`{"channel":"periodic-context","symbol":"ETH-PERP","data":{"open_interest":1234.5,"funding_rate":0.0001,"oracle_price":3000,"ts":1700000000000}}`)

	trade, ctxEv, err := parseMessage(raw, time.Now())
	if err != nil {
		t.Fatalf("parseMessage failed: %v", err)
	}
	if trade != nil {
		t.Fatal("Expected no trade event for a context message")
	}
	if ctxEv.OpenInterest != 1234.5 || ctxEv.FundingRate != 0.0001 || ctxEv.OraclePrice != 3000 {
		t.Errorf("Context fields wrong: %+v", ctxEv)
	}
}

func TestParseMessage_MissingTimestampDefaultsToNow(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	raw := []byte(`{"channel":"trades","symbol":"X","data":{"price":1,"size":1,"side":"sell"}}`)

	trade, _, err := parseMessage(raw, now)
	if err != nil {
		t.Fatalf("parseMessage failed: %v", err)
	}
	if trade.TimestampMs != now.UnixMilli() {
		t.Errorf("TimestampMs: got %d, want %d", trade.TimestampMs, now.UnixMilli())
	}
}

func TestParseMessage_Malformed(t *testing.T) {
	cases := map[string]string{
		"invalid json":    `{not json`,
		"missing symbol":  `{"channel":"trades","data":{"price":1,"size":1,"side":"buy"}}`,
		"unknown channel": `{"channel":"orderbook","symbol":"X","data":{}}`,
		"bad side":        `{"channel":"trades","symbol":"X","data":{"price":1,"size":1,"side":"short"}}`,
		"zero price":      `{"channel":"trades","symbol":"X","data":{"price":0,"size":1,"side":"buy"}}`,
		"negative size":   `{"channel":"trades","symbol":"X","data":{"price":1,"size":-1,"side":"buy"}}`,
		"bad trade body":  `{"channel":"trades","symbol":"X","data":[1,2]}`,
	}

	for name, raw := range cases {
		trade, ctxEv, err := parseMessage([]byte(raw), time.Now())
		if err == nil {
			t.Errorf("%s: expected error", name)
		}
		if trade != nil || ctxEv != nil {
			t.Errorf("%s: expected nil events on error", name)
		}
	}
}
