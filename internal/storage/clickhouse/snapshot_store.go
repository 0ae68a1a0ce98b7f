package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"perpwatch/internal/domain"
	"perpwatch/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using ClickHouse.
// Snapshots are written once per symbol per tick; the ReplacingMergeTree
// table absorbs the rare duplicate from a restarted tick, so no existence
// check runs on the hot path.
type SnapshotStore struct {
	conn *Conn
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(conn *Conn) *SnapshotStore {
	return &SnapshotStore{conn: conn}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// InsertBulk adds multiple snapshots in one batch.
func (s *SnapshotStore) InsertBulk(ctx context.Context, snaps []*domain.FeatureSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	for _, snap := range snaps {
		if snap == nil || snap.Symbol == "" {
			return storage.ErrInvalidInput
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO feature_snapshots (
			symbol, timestamp_ms, cvd_slope_1m, cvd_slope_5m, oi_delta_5m_pct,
			funding_bp, basis_bps, ls_ratio, vwap_z_1m, trade_burst, last_price
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, snap := range snaps {
		err = batch.Append(
			snap.Symbol, uint64(snap.TimestampMs),
			snap.CVDSlope1m, snap.CVDSlope5m, snap.OIDelta5mPct,
			snap.FundingBp, snap.BasisBps, snap.LSRatio, snap.VWAPZ1m,
			snap.TradeBurst, snap.LastPrice,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetBySymbol retrieves all snapshots for a symbol, ordered by timestamp_ms ASC.
func (s *SnapshotStore) GetBySymbol(ctx context.Context, symbol string) ([]*domain.FeatureSnapshot, error) {
	query := `
		SELECT symbol, timestamp_ms, cvd_slope_1m, cvd_slope_5m, oi_delta_5m_pct,
		       funding_bp, basis_bps, ls_ratio, vwap_z_1m, trade_burst, last_price
		FROM feature_snapshots FINAL
		WHERE symbol = ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, symbol)
	if err != nil {
		return nil, fmt.Errorf("query snapshots by symbol: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// GetByTimeRange retrieves snapshots for a symbol within [start, end] (inclusive).
func (s *SnapshotStore) GetByTimeRange(ctx context.Context, symbol string, startMs, endMs int64) ([]*domain.FeatureSnapshot, error) {
	query := `
		SELECT symbol, timestamp_ms, cvd_slope_1m, cvd_slope_5m, oi_delta_5m_pct,
		       funding_bp, basis_bps, ls_ratio, vwap_z_1m, trade_burst, last_price
		FROM feature_snapshots FINAL
		WHERE symbol = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, symbol, uint64(startMs), uint64(endMs))
	if err != nil {
		return nil, fmt.Errorf("query snapshots by time range: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

func scanSnapshots(rows driver.Rows) ([]*domain.FeatureSnapshot, error) {
	var result []*domain.FeatureSnapshot
	for rows.Next() {
		var snap domain.FeatureSnapshot
		var ts uint64
		err := rows.Scan(
			&snap.Symbol, &ts,
			&snap.CVDSlope1m, &snap.CVDSlope5m, &snap.OIDelta5mPct,
			&snap.FundingBp, &snap.BasisBps, &snap.LSRatio, &snap.VWAPZ1m,
			&snap.TradeBurst, &snap.LastPrice,
		)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.TimestampMs = int64(ts)
		result = append(result, &snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return result, nil
}
