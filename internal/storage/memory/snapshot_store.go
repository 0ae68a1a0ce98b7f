package memory

import (
	"context"
	"sort"
	"sync"

	"perpwatch/internal/domain"
	"perpwatch/internal/storage"
)

// SnapshotStore is an in-memory implementation of storage.SnapshotStore.
// Duplicate (symbol, timestamp_ms) points are rejected to keep the
// timeseries unambiguous.
type SnapshotStore struct {
	mu   sync.RWMutex
	data map[string][]*domain.FeatureSnapshot // keyed by symbol
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		data: make(map[string][]*domain.FeatureSnapshot),
	}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// InsertBulk adds multiple snapshots. Fails the entire batch on any
// duplicate (symbol, timestamp_ms).
func (s *SnapshotStore) InsertBulk(_ context.Context, snaps []*domain.FeatureSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type pointKey struct {
		symbol string
		ts     int64
	}
	batch := make(map[pointKey]struct{}, len(snaps))

	for _, snap := range snaps {
		if snap == nil || snap.Symbol == "" {
			return storage.ErrInvalidInput
		}
		key := pointKey{symbol: snap.Symbol, ts: snap.TimestampMs}
		if _, exists := batch[key]; exists {
			return storage.ErrDuplicateKey
		}
		batch[key] = struct{}{}

		for _, existing := range s.data[snap.Symbol] {
			if existing.TimestampMs == snap.TimestampMs {
				return storage.ErrDuplicateKey
			}
		}
	}

	for _, snap := range snaps {
		copy := *snap
		s.data[snap.Symbol] = append(s.data[snap.Symbol], &copy)
	}
	return nil
}

// GetBySymbol retrieves all snapshots for a symbol, ordered by timestamp_ms ASC.
func (s *SnapshotStore) GetBySymbol(_ context.Context, symbol string) ([]*domain.FeatureSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.FeatureSnapshot, 0, len(s.data[symbol]))
	for _, snap := range s.data[symbol] {
		copy := *snap
		result = append(result, &copy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})
	return result, nil
}

// GetByTimeRange retrieves snapshots for a symbol within [start, end] (inclusive).
func (s *SnapshotStore) GetByTimeRange(_ context.Context, symbol string, startMs, endMs int64) ([]*domain.FeatureSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.FeatureSnapshot
	for _, snap := range s.data[symbol] {
		if snap.TimestampMs >= startMs && snap.TimestampMs <= endMs {
			copy := *snap
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})
	return result, nil
}
