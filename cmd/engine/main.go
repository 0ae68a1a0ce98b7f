package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"perpwatch/internal/decision"
	"perpwatch/internal/dispatch"
	"perpwatch/internal/features"
	"perpwatch/internal/feed"
	"perpwatch/internal/observability"
	"perpwatch/internal/rules"
	"perpwatch/internal/scheduler"
	"perpwatch/internal/storage"
	chstore "perpwatch/internal/storage/clickhouse"
	"perpwatch/internal/storage/memory"
	"perpwatch/internal/storage/migrations"
	pgstore "perpwatch/internal/storage/postgres"
)

func main() {
	wsEndpoint := flag.String("ws-endpoint", "", "Market data WebSocket endpoint")
	symbols := flag.String("symbols", "", "Comma-separated perp symbols to watch")
	rulesPath := flag.String("rules", "", "Path to YAML rule file (empty uses built-in defaults)")
	decisionEndpoint := flag.String("decision-endpoint", "", "Decision service HTTP endpoint (empty runs fallback-only)")
	decisionTimeout := flag.Duration("decision-timeout", decision.DefaultTimeout, "Per-trigger decision deadline including fallback")
	orderEndpoint := flag.String("order-endpoint", "", "Order placement HTTP endpoint (empty disables order emission)")
	workflowEndpoint := flag.String("workflow-endpoint", "", "Analysis workflow HTTP endpoint (empty disables notifications)")
	tickInterval := flag.Duration("tick-interval", scheduler.DefaultInterval, "Evaluation pass interval")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string for trigger/intent audit")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse DSN for feature snapshot timeseries")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address (empty to disable)")

	flag.Parse()

	logger := log.New(os.Stdout, "[engine] ", log.LstdFlags|log.Lshortfile)

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Printf("Starting metrics server on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
	}

	symbolList := splitSymbols(*symbols)
	if len(symbolList) == 0 {
		logger.Fatal("No symbols specified. Use --symbols")
	}
	logger.Printf("Watching symbols: %v", symbolList)

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err := run(ctx, logger, options{
		wsEndpoint:       *wsEndpoint,
		symbols:          symbolList,
		rulesPath:        *rulesPath,
		decisionEndpoint: *decisionEndpoint,
		decisionTimeout:  *decisionTimeout,
		orderEndpoint:    *orderEndpoint,
		workflowEndpoint: *workflowEndpoint,
		tickInterval:     *tickInterval,
		postgresDSN:      *postgresDSN,
		clickhouseDSN:    *clickhouseDSN,
		useMemory:        *useMemory,
	})

	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Error: %v", err)
	}

	logger.Println("Shutdown complete")
}

type options struct {
	wsEndpoint       string
	symbols          []string
	rulesPath        string
	decisionEndpoint string
	decisionTimeout  time.Duration
	orderEndpoint    string
	workflowEndpoint string
	tickInterval     time.Duration
	postgresDSN      string
	clickhouseDSN    string
	useMemory        bool
}

func run(ctx context.Context, logger *log.Logger, opts options) error {
	if opts.wsEndpoint == "" {
		return fmt.Errorf("--ws-endpoint is required")
	}
	if !opts.useMemory && opts.postgresDSN == "" {
		return fmt.Errorf("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	// Rule set
	ruleSet := rules.DefaultSet()
	if opts.rulesPath != "" {
		var err error
		ruleSet, err = rules.Load(opts.rulesPath)
		if err != nil {
			logger.Printf("Rule file %s unusable (%v), continuing with built-in defaults", opts.rulesPath, err)
		}
	}
	logger.Printf("Loaded %d rules", len(ruleSet.Rules))

	// Stores
	var triggerStore storage.TriggerEventStore = memory.NewTriggerEventStore()
	var intentStore storage.OrderIntentStore = memory.NewOrderIntentStore()
	var snapshotStore storage.SnapshotStore = memory.NewSnapshotStore()

	if !opts.useMemory {
		pool, err := pgstore.NewPool(ctx, opts.postgresDSN)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()

		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return fmt.Errorf("apply postgres migrations: %w", err)
		}

		triggerStore = pgstore.NewTriggerEventStore(pool)
		intentStore = pgstore.NewOrderIntentStore(pool)

		if opts.clickhouseDSN != "" {
			conn, err := migrations.RunClickhouseMigrations(ctx, opts.clickhouseDSN)
			if err != nil {
				return fmt.Errorf("apply clickhouse migrations: %w", err)
			}
			defer conn.Close()
			snapshotStore = chstore.NewSnapshotStore(conn)
		} else {
			logger.Println("No --clickhouse-dsn, keeping feature snapshots in memory")
		}
	}

	// Pipeline
	cache := features.NewCache(features.DefaultConfig())
	engine := rules.NewEngine(ruleSet)

	var decisionClient decision.Client
	if opts.decisionEndpoint != "" {
		decisionClient = decision.NewHTTPClient(opts.decisionEndpoint)
	} else {
		logger.Println("No --decision-endpoint, running on local fallback only")
	}
	gateway := decision.NewGateway(decision.Options{
		Client:  decisionClient,
		Timeout: opts.decisionTimeout,
		Logger:  logger,
	})

	var orderSink dispatch.OrderSink
	if opts.orderEndpoint != "" {
		orderSink = dispatch.NewHTTPOrderSink(opts.orderEndpoint)
	}
	var notifier dispatch.Notifier
	if opts.workflowEndpoint != "" {
		notifier = dispatch.NewHTTPNotifier(opts.workflowEndpoint)
	}
	dispatcher := dispatch.NewDispatcher(orderSink, notifier, logger)

	feedCfg := feed.DefaultConfig()
	feedCfg.Endpoint = opts.wsEndpoint
	feedCfg.Symbols = opts.symbols
	client := feed.NewClient(feedCfg, cache, logger)

	sched := scheduler.New(scheduler.Options{
		Cache:      cache,
		Engine:     engine,
		Gateway:    gateway,
		Dispatcher: dispatcher,
		Stores: scheduler.Stores{
			Snapshots: snapshotStore,
			Triggers:  triggerStore,
			Intents:   intentStore,
		},
		Interval: opts.tickInterval,
		Logger:   logger,
	})

	feedErr := make(chan error, 1)
	go func() { feedErr <- client.Run(ctx) }()

	schedErr := make(chan error, 1)
	go func() { schedErr <- sched.Run(ctx) }()

	logger.Println("Trigger engine running")
	select {
	case err := <-feedErr:
		return err
	case err := <-schedErr:
		return err
	}
}

func splitSymbols(symbols string) []string {
	var list []string
	for _, s := range strings.Split(symbols, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			list = append(list, s)
		}
	}
	return list
}
