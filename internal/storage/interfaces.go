// Package storage defines the append-only persistence contracts for the
// trigger engine's audit output. Persistence is best-effort: callers log
// failures and continue, the pipeline never stalls on a store.
package storage

import (
	"context"

	"perpwatch/internal/domain"
)

// TriggerEventStore provides access to fired-trigger storage.
type TriggerEventStore interface {
	// Insert adds a fired trigger. Returns ErrDuplicateKey if
	// (symbol, rule_name, fired_at_ms) exists.
	Insert(ctx context.Context, ev *domain.TriggerEvent) error

	// GetBySymbol retrieves all triggers for a symbol, ordered by fired_at_ms ASC.
	GetBySymbol(ctx context.Context, symbol string) ([]*domain.TriggerEvent, error)

	// GetByTimeRange retrieves triggers fired within [start, end] milliseconds (inclusive).
	GetByTimeRange(ctx context.Context, startMs, endMs int64) ([]*domain.TriggerEvent, error)
}

// OrderIntentStore provides access to emitted order-intent storage.
type OrderIntentStore interface {
	// Insert adds an order intent. Returns ErrDuplicateKey if
	// (symbol, originating_rule, created_at_ms) exists.
	Insert(ctx context.Context, intent *domain.OrderIntent) error

	// GetBySymbol retrieves all intents for a symbol, ordered by created_at_ms ASC.
	GetBySymbol(ctx context.Context, symbol string) ([]*domain.OrderIntent, error)
}

// SnapshotStore provides access to per-tick feature snapshot storage.
// Snapshot volume is high, so implementations favor bulk insertion.
type SnapshotStore interface {
	// InsertBulk adds multiple snapshots. Duplicate (symbol, timestamp_ms)
	// handling is implementation-defined for timeseries backends.
	InsertBulk(ctx context.Context, snaps []*domain.FeatureSnapshot) error

	// GetBySymbol retrieves all snapshots for a symbol, ordered by timestamp_ms ASC.
	GetBySymbol(ctx context.Context, symbol string) ([]*domain.FeatureSnapshot, error)

	// GetByTimeRange retrieves snapshots for a symbol within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, symbol string, startMs, endMs int64) ([]*domain.FeatureSnapshot, error)
}
