// Package scheduler drives the periodic evaluation pass: snapshot the
// feature cache, run the rule engine, route fired triggers through the
// decision gateway and dispatcher, and persist the audit trail.
package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"perpwatch/internal/decision"
	"perpwatch/internal/dispatch"
	"perpwatch/internal/domain"
	"perpwatch/internal/features"
	"perpwatch/internal/observability"
	"perpwatch/internal/rules"
	"perpwatch/internal/storage"
)

// DefaultInterval is the evaluation cadence.
const DefaultInterval = 5 * time.Second

// Stores groups the optional persistence sinks. Any of them may be nil;
// persistence is best-effort and never stalls the evaluation pass.
type Stores struct {
	Snapshots storage.SnapshotStore
	Triggers  storage.TriggerEventStore
	Intents   storage.OrderIntentStore
}

// Options configures a Scheduler.
type Options struct {
	Cache      *features.Cache
	Engine     *rules.Engine
	Gateway    *decision.Gateway
	Dispatcher *dispatch.Dispatcher
	Stores     Stores
	Interval   time.Duration // 0 means DefaultInterval
	Logger     *log.Logger
	Now        func() time.Time // injectable clock for tests
}

// Scheduler runs the evaluation pass on a fixed interval. Passes never
// overlap: when one is still running at the next tick, that tick is
// skipped and counted.
type Scheduler struct {
	cache      *features.Cache
	engine     *rules.Engine
	gateway    *decision.Gateway
	dispatcher *dispatch.Dispatcher
	stores     Stores
	interval   time.Duration
	logger     *log.Logger
	now        func() time.Time

	running atomic.Bool
}

// New creates a scheduler. Cache, Engine, Gateway and Dispatcher are
// required.
func New(opts Options) *Scheduler {
	s := &Scheduler{
		cache:      opts.Cache,
		engine:     opts.Engine,
		gateway:    opts.Gateway,
		dispatcher: opts.Dispatcher,
		stores:     opts.Stores,
		interval:   opts.Interval,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Run ticks until the context is cancelled. Each tick executes in its own
// goroutine so a slow pass (decision calls are bounded by the gateway
// timeout, which exceeds the interval) skips subsequent ticks instead of
// delaying them.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Printf("[scheduler] started, interval=%s", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Printf("[scheduler] stopped: %v", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			if !s.running.CompareAndSwap(false, true) {
				observability.RecordTickSkipped()
				s.logger.Printf("[scheduler] previous pass still running, tick skipped")
				continue
			}
			go func() {
				defer s.running.Store(false)
				s.Tick(ctx)
			}()
		}
	}
}

// Tick executes one evaluation pass over every symbol with at least one
// observed trade. Exposed for replay and tests.
func (s *Scheduler) Tick(ctx context.Context) {
	start := s.now()
	nowMs := start.UnixMilli()

	symbols := s.cache.Symbols()

	var snaps []*domain.FeatureSnapshot
	var fired []domain.TriggerEvent
	for _, symbol := range symbols {
		if !s.cache.HasPrice(symbol) {
			continue
		}
		snap := s.cache.ComputeFeatures(symbol, nowMs)
		snaps = append(snaps, &snap)
		fired = append(fired, s.engine.Evaluate(snap, nowMs)...)
	}

	s.persistSnapshots(ctx, snaps)

	// Decision calls for concurrently fired triggers run in parallel;
	// the pass completes only when all of them resolved.
	var wg sync.WaitGroup
	for _, ev := range fired {
		wg.Add(1)
		go func(ev domain.TriggerEvent) {
			defer wg.Done()
			s.handleTrigger(ctx, ev)
		}(ev)
	}
	wg.Wait()

	observability.RecordTick(time.Since(start).Seconds(), len(symbols))
	if len(fired) > 0 {
		s.logger.Printf("[scheduler] pass done: %d symbols, %d triggers, %s", len(snaps), len(fired), time.Since(start))
	}
}

func (s *Scheduler) handleTrigger(ctx context.Context, ev domain.TriggerEvent) {
	s.logger.Printf("[scheduler] trigger %s fired for %s", ev.RuleName, ev.Symbol)
	s.persistTrigger(ctx, ev)

	verdict := s.gateway.Decide(ctx, ev)

	intent, _, err := s.dispatcher.Dispatch(ctx, ev, verdict)
	if err != nil {
		s.logger.Printf("[scheduler] dispatch %s/%s: %v", ev.Symbol, ev.RuleName, err)
		return
	}
	if intent != nil {
		s.persistIntent(ctx, intent)
	}
}

func (s *Scheduler) persistSnapshots(ctx context.Context, snaps []*domain.FeatureSnapshot) {
	if s.stores.Snapshots == nil || len(snaps) == 0 {
		return
	}
	if err := s.stores.Snapshots.InsertBulk(ctx, snaps); err != nil {
		observability.RecordStoreWriteError("snapshots")
		s.logger.Printf("[scheduler] persist snapshots: %v", err)
	}
}

func (s *Scheduler) persistTrigger(ctx context.Context, ev domain.TriggerEvent) {
	if s.stores.Triggers == nil {
		return
	}
	if err := s.stores.Triggers.Insert(ctx, &ev); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		observability.RecordStoreWriteError("trigger_events")
		s.logger.Printf("[scheduler] persist trigger %s/%s: %v", ev.Symbol, ev.RuleName, err)
	}
}

func (s *Scheduler) persistIntent(ctx context.Context, intent *domain.OrderIntent) {
	if s.stores.Intents == nil {
		return
	}
	if err := s.stores.Intents.Insert(ctx, intent); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		observability.RecordStoreWriteError("order_intents")
		s.logger.Printf("[scheduler] persist intent %s/%s: %v", intent.Symbol, intent.OriginatingRule, err)
	}
}
