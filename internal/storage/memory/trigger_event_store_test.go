package memory

import (
	"context"
	"errors"
	"testing"

	"perpwatch/internal/domain"
	"perpwatch/internal/storage"
)

func testTrigger(symbol, rule string, firedAtMs int64) *domain.TriggerEvent {
	return &domain.TriggerEvent{
		RuleName: rule,
		Category: domain.CategorySqueezeDown,
		Symbol:   symbol,
		Snapshot: domain.FeatureSnapshot{
			Symbol:       symbol,
			TimestampMs:  firedAtMs,
			OIDelta5mPct: 1.2,
			FundingBp:    2.5,
			LastPrice:    65000,
		},
		FiredAtMs: firedAtMs,
	}
}

func TestTriggerEventStore_InsertAndGet(t *testing.T) {
	store := NewTriggerEventStore()
	ctx := context.Background()

	ev := testTrigger("BTC-PERP", "oi_spike_squeeze_down", 1000)
	if err := store.Insert(ctx, ev); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetBySymbol(ctx, "BTC-PERP")
	if err != nil {
		t.Fatalf("GetBySymbol failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 trigger, got %d", len(got))
	}
	if got[0].RuleName != "oi_spike_squeeze_down" {
		t.Errorf("RuleName mismatch: got %s", got[0].RuleName)
	}
	if got[0].Snapshot.OIDelta5mPct != 1.2 {
		t.Errorf("Snapshot not preserved: %+v", got[0].Snapshot)
	}
}

func TestTriggerEventStore_DuplicateKey(t *testing.T) {
	store := NewTriggerEventStore()
	ctx := context.Background()

	ev := testTrigger("BTC-PERP", "oi_spike_squeeze_down", 1000)
	if err := store.Insert(ctx, ev); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	err := store.Insert(ctx, testTrigger("BTC-PERP", "oi_spike_squeeze_down", 1000))
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}

	// Same rule at a different time is a distinct fire.
	if err := store.Insert(ctx, testTrigger("BTC-PERP", "oi_spike_squeeze_down", 2000)); err != nil {
		t.Errorf("Insert at new timestamp failed: %v", err)
	}
}

func TestTriggerEventStore_InvalidInput(t *testing.T) {
	store := NewTriggerEventStore()
	ctx := context.Background()

	cases := []*domain.TriggerEvent{
		nil,
		{RuleName: "r", FiredAtMs: 1}, // missing symbol
		{Symbol: "X", FiredAtMs: 1},   // missing rule
	}
	for _, ev := range cases {
		if err := store.Insert(ctx, ev); !errors.Is(err, storage.ErrInvalidInput) {
			t.Errorf("Expected ErrInvalidInput for %+v, got %v", ev, err)
		}
	}
}

func TestTriggerEventStore_GetByTimeRange(t *testing.T) {
	store := NewTriggerEventStore()
	ctx := context.Background()

	for _, ts := range []int64{1000, 2000, 3000, 4000} {
		if err := store.Insert(ctx, testTrigger("BTC-PERP", "basis_fade", ts)); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	got, err := store.GetByTimeRange(ctx, 2000, 3000)
	if err != nil {
		t.Fatalf("GetByTimeRange failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 triggers in range, got %d", len(got))
	}
	if got[0].FiredAtMs != 2000 || got[1].FiredAtMs != 3000 {
		t.Errorf("Wrong range or order: %d, %d", got[0].FiredAtMs, got[1].FiredAtMs)
	}
}

func TestTriggerEventStore_ResultsAreCopies(t *testing.T) {
	store := NewTriggerEventStore()
	ctx := context.Background()

	if err := store.Insert(ctx, testTrigger("BTC-PERP", "basis_fade", 1000)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, _ := store.GetBySymbol(ctx, "BTC-PERP")
	got[0].RuleName = "mutated"

	again, _ := store.GetBySymbol(ctx, "BTC-PERP")
	if again[0].RuleName != "basis_fade" {
		t.Error("Store contents must not be mutable through results")
	}
}
