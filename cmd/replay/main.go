// Replay re-evaluates stored feature snapshots through a fresh rule
// engine. Useful for tuning thresholds offline: edit the rule file, replay
// a recorded window, compare what would have fired.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"perpwatch/internal/decision"
	"perpwatch/internal/dispatch"
	"perpwatch/internal/rules"
	chstore "perpwatch/internal/storage/clickhouse"
)

func main() {
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse DSN with recorded feature snapshots")
	symbol := flag.String("symbol", "", "Perp symbol to replay")
	rulesPath := flag.String("rules", "", "Path to YAML rule file (empty uses built-in defaults)")
	fromTime := flag.String("from-time", "", "Window start (RFC3339, default 24h ago)")
	toTime := flag.String("to-time", "", "Window end (RFC3339, default now)")

	flag.Parse()

	logger := log.New(os.Stdout, "[replay] ", log.LstdFlags)

	if *clickhouseDSN == "" {
		logger.Fatal("--clickhouse-dsn is required")
	}
	if *symbol == "" {
		logger.Fatal("--symbol is required")
	}

	ctx := context.Background()

	if err := run(ctx, logger, *clickhouseDSN, *symbol, *rulesPath, *fromTime, *toTime); err != nil {
		logger.Fatalf("Error: %v", err)
	}
}

func run(ctx context.Context, logger *log.Logger, dsn, symbol, rulesPath, fromStr, toStr string) error {
	from, to, err := parseWindow(fromStr, toStr)
	if err != nil {
		return err
	}

	ruleSet := rules.DefaultSet()
	if rulesPath != "" {
		ruleSet, err = rules.Load(rulesPath)
		if err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
	}

	conn, err := chstore.NewConn(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect clickhouse: %w", err)
	}
	defer conn.Close()

	snaps, err := chstore.NewSnapshotStore(conn).GetByTimeRange(ctx, symbol, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return fmt.Errorf("load snapshots: %w", err)
	}
	logger.Printf("Replaying %d snapshots for %s (%s to %s)", len(snaps), symbol,
		from.Format(time.RFC3339), to.Format(time.RFC3339))

	// Fallback-only gateway and a collaborator-free dispatcher: replay
	// reports what would have fired, it never places orders.
	engine := rules.NewEngine(ruleSet)
	gateway := decision.NewGateway(decision.Options{Logger: logger})
	dispatcher := dispatch.NewDispatcher(nil, nil, logger)

	var fired, confirmed int
	for _, snap := range snaps {
		for _, ev := range engine.Evaluate(*snap, snap.TimestampMs) {
			fired++
			verdict := gateway.Decide(ctx, ev)
			intent, _, err := dispatcher.Dispatch(ctx, ev, verdict)
			if err != nil {
				return fmt.Errorf("dispatch replayed trigger: %w", err)
			}
			if intent != nil {
				confirmed++
				logger.Printf("  %s %s %s size=%.2f tp=%.1f sl=%.1f (%s)",
					msTime(ev.FiredAtMs), ev.RuleName, intent.Side,
					intent.SizeMultiplier, intent.TakeProfitATR, intent.StopLossATR,
					verdict.Reasoning)
			} else {
				logger.Printf("  %s %s cancelled (%s)", msTime(ev.FiredAtMs), ev.RuleName, verdict.Reasoning)
			}
		}
	}

	logger.Printf("Replay complete: %d snapshots, %d triggers, %d with intents", len(snaps), fired, confirmed)
	return nil
}

func parseWindow(fromStr, toStr string) (time.Time, time.Time, error) {
	from := time.Now().Add(-24 * time.Hour)
	to := time.Now()

	if fromStr != "" {
		t, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse from-time: %w", err)
		}
		from = t
	}
	if toStr != "" {
		t, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse to-time: %w", err)
		}
		to = t
	}
	return from, to, nil
}

func msTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("15:04:05")
}
