package domain

// Side identifies the aggressor side of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TradeEvent represents one normalized trade from the feed's trades channel.
type TradeEvent struct {
	Symbol      string  // instrument identifier
	Price       float64 // traded price
	Size        float64 // traded size in base units
	Side        Side    // aggressor side
	TimestampMs int64   // Unix timestamp in milliseconds
}

// ContextEvent represents one periodic-context message for a symbol.
// Carries slower-moving market state published on the context channel.
type ContextEvent struct {
	Symbol       string  // instrument identifier
	OpenInterest float64 // outstanding notional exposure
	FundingRate  float64 // current funding rate (raw, not bps)
	OraclePrice  float64 // reference price for basis computation
	TimestampMs  int64   // Unix timestamp in milliseconds
}
