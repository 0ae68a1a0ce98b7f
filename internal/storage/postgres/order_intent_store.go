package postgres

import (
	"context"
	"fmt"

	"perpwatch/internal/domain"
	"perpwatch/internal/storage"
)

// OrderIntentStore implements storage.OrderIntentStore using PostgreSQL.
type OrderIntentStore struct {
	pool *Pool
}

// NewOrderIntentStore creates a new OrderIntentStore.
func NewOrderIntentStore(pool *Pool) *OrderIntentStore {
	return &OrderIntentStore{pool: pool}
}

// Compile-time interface check.
var _ storage.OrderIntentStore = (*OrderIntentStore)(nil)

// Insert adds an order intent. Returns ErrDuplicateKey if
// (symbol, originating_rule, created_at_ms) exists.
func (s *OrderIntentStore) Insert(ctx context.Context, intent *domain.OrderIntent) error {
	query := `
		INSERT INTO order_intents (
			symbol, side, size_multiplier, take_profit_atr, stop_loss_atr, originating_rule, created_at_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.pool.Exec(ctx, query,
		intent.Symbol,
		string(intent.Side),
		intent.SizeMultiplier,
		intent.TakeProfitATR,
		intent.StopLossATR,
		intent.OriginatingRule,
		intent.CreatedAtMs,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert order intent: %w", err)
	}
	return nil
}

// GetBySymbol retrieves all intents for a symbol, ordered by created_at_ms ASC.
func (s *OrderIntentStore) GetBySymbol(ctx context.Context, symbol string) ([]*domain.OrderIntent, error) {
	query := `
		SELECT symbol, side, size_multiplier, take_profit_atr, stop_loss_atr, originating_rule, created_at_ms
		FROM order_intents
		WHERE symbol = $1
		ORDER BY created_at_ms ASC, originating_rule ASC
	`

	rows, err := s.pool.Query(ctx, query, symbol)
	if err != nil {
		return nil, fmt.Errorf("get order intents by symbol: %w", err)
	}
	defer rows.Close()

	var result []*domain.OrderIntent
	for rows.Next() {
		var intent domain.OrderIntent
		var side string
		err := rows.Scan(
			&intent.Symbol,
			&side,
			&intent.SizeMultiplier,
			&intent.TakeProfitATR,
			&intent.StopLossATR,
			&intent.OriginatingRule,
			&intent.CreatedAtMs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order intent: %w", err)
		}
		intent.Side = domain.Side(side)
		result = append(result, &intent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order intents: %w", err)
	}
	return result, nil
}
