package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"perpwatch/internal/domain"
	"perpwatch/internal/storage"
)

// OrderIntentStore is an in-memory implementation of storage.OrderIntentStore.
type OrderIntentStore struct {
	mu   sync.RWMutex
	data map[string]*domain.OrderIntent
}

// NewOrderIntentStore creates a new in-memory order intent store.
func NewOrderIntentStore() *OrderIntentStore {
	return &OrderIntentStore{
		data: make(map[string]*domain.OrderIntent),
	}
}

// Compile-time interface check.
var _ storage.OrderIntentStore = (*OrderIntentStore)(nil)

// intentKey generates a unique key for an order intent.
func intentKey(symbol, rule string, createdAtMs int64) string {
	return fmt.Sprintf("%s|%s|%d", symbol, rule, createdAtMs)
}

// Insert adds an order intent. Returns ErrDuplicateKey if exists.
func (s *OrderIntentStore) Insert(_ context.Context, intent *domain.OrderIntent) error {
	if intent == nil || intent.Symbol == "" || intent.OriginatingRule == "" {
		return storage.ErrInvalidInput
	}

	key := intentKey(intent.Symbol, intent.OriginatingRule, intent.CreatedAtMs)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *intent
	s.data[key] = &copy
	return nil
}

// GetBySymbol retrieves all intents for a symbol, ordered by created_at_ms ASC.
func (s *OrderIntentStore) GetBySymbol(_ context.Context, symbol string) ([]*domain.OrderIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.OrderIntent
	for _, intent := range s.data {
		if intent.Symbol == symbol {
			copy := *intent
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAtMs != result[j].CreatedAtMs {
			return result[i].CreatedAtMs < result[j].CreatedAtMs
		}
		return result[i].OriginatingRule < result[j].OriginatingRule
	})
	return result, nil
}
