package postgres

import (
	"context"
	"fmt"

	"perpwatch/internal/domain"
	"perpwatch/internal/storage"
)

// TriggerEventStore implements storage.TriggerEventStore using PostgreSQL.
// The originating feature snapshot is flattened into columns so fired
// triggers are auditable without a second lookup.
type TriggerEventStore struct {
	pool *Pool
}

// NewTriggerEventStore creates a new TriggerEventStore.
func NewTriggerEventStore(pool *Pool) *TriggerEventStore {
	return &TriggerEventStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TriggerEventStore = (*TriggerEventStore)(nil)

const triggerColumns = `
	symbol, rule_name, category, fired_at_ms,
	cvd_slope_1m, cvd_slope_5m, oi_delta_5m_pct, funding_bp, basis_bps,
	ls_ratio, vwap_z_1m, trade_burst, last_price
`

// Insert adds a fired trigger. Returns ErrDuplicateKey if
// (symbol, rule_name, fired_at_ms) exists.
func (s *TriggerEventStore) Insert(ctx context.Context, ev *domain.TriggerEvent) error {
	query := `
		INSERT INTO trigger_events (` + triggerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	snap := ev.Snapshot
	_, err := s.pool.Exec(ctx, query,
		ev.Symbol,
		ev.RuleName,
		string(ev.Category),
		ev.FiredAtMs,
		snap.CVDSlope1m,
		snap.CVDSlope5m,
		snap.OIDelta5mPct,
		snap.FundingBp,
		snap.BasisBps,
		snap.LSRatio,
		snap.VWAPZ1m,
		snap.TradeBurst,
		snap.LastPrice,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trigger event: %w", err)
	}
	return nil
}

// GetBySymbol retrieves all triggers for a symbol, ordered by fired_at_ms ASC.
func (s *TriggerEventStore) GetBySymbol(ctx context.Context, symbol string) ([]*domain.TriggerEvent, error) {
	query := `
		SELECT ` + triggerColumns + `
		FROM trigger_events
		WHERE symbol = $1
		ORDER BY fired_at_ms ASC, rule_name ASC
	`
	return s.query(ctx, query, symbol)
}

// GetByTimeRange retrieves triggers fired within [start, end] (inclusive).
func (s *TriggerEventStore) GetByTimeRange(ctx context.Context, startMs, endMs int64) ([]*domain.TriggerEvent, error) {
	query := `
		SELECT ` + triggerColumns + `
		FROM trigger_events
		WHERE fired_at_ms >= $1 AND fired_at_ms <= $2
		ORDER BY fired_at_ms ASC, symbol ASC, rule_name ASC
	`
	return s.query(ctx, query, startMs, endMs)
}

func (s *TriggerEventStore) query(ctx context.Context, query string, args ...any) ([]*domain.TriggerEvent, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trigger events: %w", err)
	}
	defer rows.Close()

	var result []*domain.TriggerEvent
	for rows.Next() {
		var ev domain.TriggerEvent
		var category string
		err := rows.Scan(
			&ev.Symbol,
			&ev.RuleName,
			&category,
			&ev.FiredAtMs,
			&ev.Snapshot.CVDSlope1m,
			&ev.Snapshot.CVDSlope5m,
			&ev.Snapshot.OIDelta5mPct,
			&ev.Snapshot.FundingBp,
			&ev.Snapshot.BasisBps,
			&ev.Snapshot.LSRatio,
			&ev.Snapshot.VWAPZ1m,
			&ev.Snapshot.TradeBurst,
			&ev.Snapshot.LastPrice,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trigger event: %w", err)
		}
		ev.Category = domain.RuleCategory(category)
		ev.Snapshot.Symbol = ev.Symbol
		ev.Snapshot.TimestampMs = ev.FiredAtMs
		result = append(result, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trigger events: %w", err)
	}
	return result, nil
}
