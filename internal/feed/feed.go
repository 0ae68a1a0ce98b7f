// Package feed owns the persistent market-data connection. It subscribes
// to the trades and periodic-context channels per tracked symbol,
// normalizes incoming messages and forwards them synchronously to the
// feature cache in per-symbol arrival order.
package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"perpwatch/internal/domain"
)

// Feed channel kinds.
const (
	ChannelTrades  = "trades"
	ChannelContext = "periodic-context"
)

// Sink receives normalized feed events. The feature cache implements it.
type Sink interface {
	UpdateTrade(domain.TradeEvent)
	UpdateContext(domain.ContextEvent)
}

// subscribeRequest is the per-(channel, symbol) subscription message sent
// after every (re)connect.
type subscribeRequest struct {
	Op      string `json:"op"`
	Channel string `json:"channel"`
	Symbol  string `json:"symbol"`
}

// wsMessage is the envelope of every inbound feed message.
type wsMessage struct {
	Channel string          `json:"channel"`
	Symbol  string          `json:"symbol"`
	Data    json.RawMessage `json:"data"`
}

// tradePayload is the trades-channel message body.
type tradePayload struct {
	Price       float64 `json:"price"`
	Size        float64 `json:"size"`
	Side        string  `json:"side"`
	TimestampMs int64   `json:"ts"`
}

// contextPayload is the periodic-context-channel message body.
type contextPayload struct {
	OpenInterest float64 `json:"open_interest"`
	FundingRate  float64 `json:"funding_rate"`
	OraclePrice  float64 `json:"oracle_price"`
	TimestampMs  int64   `json:"ts"`
}

// parseMessage normalizes one raw feed message into a trade or context
// event. Exactly one of the returns is non-nil on success.
func parseMessage(raw []byte, now time.Time) (*domain.TradeEvent, *domain.ContextEvent, error) {
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, nil, fmt.Errorf("decode envelope: %w", err)
	}
	if msg.Symbol == "" {
		return nil, nil, fmt.Errorf("missing symbol")
	}

	switch msg.Channel {
	case ChannelTrades:
		var p tradePayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return nil, nil, fmt.Errorf("decode trade payload: %w", err)
		}
		side := domain.Side(p.Side)
		if side != domain.SideBuy && side != domain.SideSell {
			return nil, nil, fmt.Errorf("unknown trade side %q", p.Side)
		}
		if p.Price <= 0 || p.Size <= 0 {
			return nil, nil, fmt.Errorf("non-positive price/size")
		}
		ts := p.TimestampMs
		if ts == 0 {
			ts = now.UnixMilli()
		}
		return &domain.TradeEvent{
			Symbol:      msg.Symbol,
			Price:       p.Price,
			Size:        p.Size,
			Side:        side,
			TimestampMs: ts,
		}, nil, nil

	case ChannelContext:
		var p contextPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return nil, nil, fmt.Errorf("decode context payload: %w", err)
		}
		ts := p.TimestampMs
		if ts == 0 {
			ts = now.UnixMilli()
		}
		return nil, &domain.ContextEvent{
			Symbol:       msg.Symbol,
			OpenInterest: p.OpenInterest,
			FundingRate:  p.FundingRate,
			OraclePrice:  p.OraclePrice,
			TimestampMs:  ts,
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown channel %q", msg.Channel)
	}
}
