// Package features maintains rolling per-symbol market state and computes
// derived feature snapshots for rule evaluation.
package features

import (
	"sync"

	"perpwatch/internal/domain"
)

// Config bounds the rolling windows and lookbacks. The defaults are the
// operating values; they are parameters, not derived quantities.
type Config struct {
	CVDWindowCap    int   // max cvd samples retained
	OIWindowCap     int   // max open-interest samples retained
	TradeWindowCap  int   // max raw trades retained
	Slope1mLookback int   // samples for the 1m cvd slope
	Slope5mLookback int   // samples for the 5m cvd slope
	OIDeltaLookback int   // samples for the 5m oi delta
	BurstWindowMs   int64 // trade-burst counting window
	BurstThreshold  int   // trades within the window to flag a burst
}

// DefaultConfig returns the standard window sizing.
func DefaultConfig() Config {
	return Config{
		CVDWindowCap:    1200,
		OIWindowCap:     600,
		TradeWindowCap:  600,
		Slope1mLookback: 60,
		Slope5mLookback: 300,
		OIDeltaLookback: 300,
		BurstWindowMs:   10_000,
		BurstThreshold:  20,
	}
}

// tradeSample is one retained trade for burst detection.
type tradeSample struct {
	timestampMs int64
	price       float64
	size        float64
	side        domain.Side
}

// symbolState is the mutable per-symbol aggregate. Created lazily on first
// event, never destroyed. Owned exclusively by Cache.
type symbolState struct {
	cumulativeCVD float64
	lastPrice     float64
	fundingBp     float64
	basisBps      float64
	lsRatio       float64
	vwapZ1m       float64

	cvdWindow   []float64
	oiWindow    []float64
	tradeWindow []tradeSample
}

// Cache implements the feature store. Writes arrive from the feed
// consumption path; snapshot reads come from the evaluation scheduler. A
// single mutex held only for the duration of each append or read keeps
// snapshots consistent under concurrent mutation.
type Cache struct {
	mu     sync.RWMutex
	cfg    Config
	states map[string]*symbolState
}

// NewCache creates an empty feature cache.
func NewCache(cfg Config) *Cache {
	if cfg.CVDWindowCap <= 0 {
		cfg = DefaultConfig()
	}
	return &Cache{
		cfg:    cfg,
		states: make(map[string]*symbolState),
	}
}

// state returns the symbol's state, creating it on first use.
// Caller must hold c.mu.
func (c *Cache) state(symbol string) *symbolState {
	st, ok := c.states[symbol]
	if !ok {
		st = &symbolState{lsRatio: 1.0}
		c.states[symbol] = st
	}
	return st
}

// UpdateTrade folds one trade into the symbol's cumulative signed volume
// and rolling windows. Buy-side trades add size, sell-side subtract.
func (c *Cache) UpdateTrade(ev domain.TradeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state(ev.Symbol)

	if ev.Side == domain.SideBuy {
		st.cumulativeCVD += ev.Size
	} else {
		st.cumulativeCVD -= ev.Size
	}
	st.lastPrice = ev.Price

	st.cvdWindow = appendCapped(st.cvdWindow, st.cumulativeCVD, c.cfg.CVDWindowCap)
	st.tradeWindow = appendCappedTrades(st.tradeWindow, tradeSample{
		timestampMs: ev.TimestampMs,
		price:       ev.Price,
		size:        ev.Size,
		side:        ev.Side,
	}, c.cfg.TradeWindowCap)
}

// UpdateContext folds one periodic-context message into the symbol state:
// open-interest window, funding in bps, and basis versus the oracle price.
func (c *Cache) UpdateContext(ev domain.ContextEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state(ev.Symbol)

	st.oiWindow = appendCapped(st.oiWindow, ev.OpenInterest, c.cfg.OIWindowCap)
	st.fundingBp = ev.FundingRate * 10_000

	if st.lastPrice > 0 && ev.OraclePrice > 0 {
		st.basisBps = (st.lastPrice - ev.OraclePrice) / ev.OraclePrice * 10_000
	}
}

// SetExternalSignals records collaborator-supplied fields that this system
// does not compute itself. Neutral defaults (1.0, 0) apply until called.
func (c *Cache) SetExternalSignals(symbol string, lsRatio, vwapZ1m float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state(symbol)
	st.lsRatio = lsRatio
	st.vwapZ1m = vwapZ1m
}

// ComputeFeatures derives a point-in-time snapshot for the symbol. On an
// empty window every slope/delta field is 0 and TradeBurst is false.
func (c *Cache) ComputeFeatures(symbol string, nowMs int64) domain.FeatureSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := domain.FeatureSnapshot{
		Symbol:      symbol,
		TimestampMs: nowMs,
		LSRatio:     1.0,
	}

	st, ok := c.states[symbol]
	if !ok {
		return snap
	}

	snap.CVDSlope1m = windowSlope(st.cvdWindow, c.cfg.Slope1mLookback)
	snap.CVDSlope5m = windowSlope(st.cvdWindow, c.cfg.Slope5mLookback)
	snap.OIDelta5mPct = windowDeltaPct(st.oiWindow, c.cfg.OIDeltaLookback)
	snap.FundingBp = st.fundingBp
	snap.BasisBps = st.basisBps
	snap.LSRatio = st.lsRatio
	snap.VWAPZ1m = st.vwapZ1m
	snap.LastPrice = st.lastPrice
	snap.TradeBurst = c.burstActive(st, nowMs)

	return snap
}

// HasPrice reports whether the symbol has observed at least one trade. The
// scheduler skips symbols without a price.
func (c *Cache) HasPrice(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st, ok := c.states[symbol]
	return ok && st.lastPrice > 0
}

// Symbols returns every symbol with state, in no particular order.
func (c *Cache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.states))
	for sym := range c.states {
		out = append(out, sym)
	}
	return out
}

// burstActive counts trades inside the burst window. Caller holds c.mu.
func (c *Cache) burstActive(st *symbolState, nowMs int64) bool {
	cutoff := nowMs - c.cfg.BurstWindowMs
	count := 0
	for i := len(st.tradeWindow) - 1; i >= 0; i-- {
		if st.tradeWindow[i].timestampMs <= cutoff {
			break
		}
		count++
		if count > c.cfg.BurstThreshold {
			return true
		}
	}
	return false
}

// windowSlope computes (w[-1] - w[-k]) / k, returning 0 when fewer than k
// samples exist.
func windowSlope(w []float64, k int) float64 {
	if k <= 0 || len(w) < k {
		return 0
	}
	return (w[len(w)-1] - w[len(w)-k]) / float64(k)
}

// windowDeltaPct computes (w[-1] - w[-k]) / w[-k] * 100, guarded against
// insufficient history and a zero base.
func windowDeltaPct(w []float64, k int) float64 {
	if k <= 0 || len(w) < k {
		return 0
	}
	base := w[len(w)-k]
	if base == 0 {
		return 0
	}
	return (w[len(w)-1] - base) / base * 100
}

// appendCapped appends v, dropping the oldest sample past the cap. The
// periodic copy keeps the backing array from growing without bound.
func appendCapped(w []float64, v float64, limit int) []float64 {
	w = append(w, v)
	if len(w) > limit {
		copy(w, w[1:])
		w = w[:limit]
	}
	return w
}

func appendCappedTrades(w []tradeSample, v tradeSample, limit int) []tradeSample {
	w = append(w, v)
	if len(w) > limit {
		copy(w, w[1:])
		w = w[:limit]
	}
	return w
}
