package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"perpwatch/internal/domain"
	"perpwatch/internal/storage"
)

// TriggerEventStore is an in-memory implementation of storage.TriggerEventStore.
type TriggerEventStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TriggerEvent // keyed by composite key
}

// NewTriggerEventStore creates a new in-memory trigger event store.
func NewTriggerEventStore() *TriggerEventStore {
	return &TriggerEventStore{
		data: make(map[string]*domain.TriggerEvent),
	}
}

// Compile-time interface check.
var _ storage.TriggerEventStore = (*TriggerEventStore)(nil)

// triggerKey generates a unique key for a fired trigger.
func triggerKey(symbol, ruleName string, firedAtMs int64) string {
	return fmt.Sprintf("%s|%s|%d", symbol, ruleName, firedAtMs)
}

// Insert adds a fired trigger. Returns ErrDuplicateKey if exists.
func (s *TriggerEventStore) Insert(_ context.Context, ev *domain.TriggerEvent) error {
	if ev == nil || ev.Symbol == "" || ev.RuleName == "" {
		return storage.ErrInvalidInput
	}

	key := triggerKey(ev.Symbol, ev.RuleName, ev.FiredAtMs)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *ev
	s.data[key] = &copy
	return nil
}

// GetBySymbol retrieves all triggers for a symbol, ordered by fired_at_ms ASC.
func (s *TriggerEventStore) GetBySymbol(_ context.Context, symbol string) ([]*domain.TriggerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TriggerEvent
	for _, ev := range s.data {
		if ev.Symbol == symbol {
			copy := *ev
			result = append(result, &copy)
		}
	}

	sortTriggers(result)
	return result, nil
}

// GetByTimeRange retrieves triggers fired within [start, end] (inclusive).
func (s *TriggerEventStore) GetByTimeRange(_ context.Context, startMs, endMs int64) ([]*domain.TriggerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TriggerEvent
	for _, ev := range s.data {
		if ev.FiredAtMs >= startMs && ev.FiredAtMs <= endMs {
			copy := *ev
			result = append(result, &copy)
		}
	}

	sortTriggers(result)
	return result, nil
}

// sortTriggers orders by fired_at_ms ASC with (symbol, rule) tiebreak for
// deterministic output.
func sortTriggers(evs []*domain.TriggerEvent) {
	sort.Slice(evs, func(i, j int) bool {
		if evs[i].FiredAtMs != evs[j].FiredAtMs {
			return evs[i].FiredAtMs < evs[j].FiredAtMs
		}
		if evs[i].Symbol != evs[j].Symbol {
			return evs[i].Symbol < evs[j].Symbol
		}
		return evs[i].RuleName < evs[j].RuleName
	})
}
