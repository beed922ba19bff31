package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ladderbot/internal/account"
	"ladderbot/internal/api"
	"ladderbot/internal/conn"
	"ladderbot/internal/events"
	"ladderbot/internal/feed"
	"ladderbot/internal/ledger"
	"ladderbot/internal/loop"
	"ladderbot/internal/monitor"
	"ladderbot/internal/persistence"
	"ladderbot/internal/predict"
	"ladderbot/internal/risk"
	"ladderbot/pkg/config"
	"ladderbot/pkg/crypto"
	"ladderbot/pkg/db"
	"ladderbot/pkg/ident"

	// Exchange adapters register themselves.
	_ "ladderbot/pkg/exchange/binance"
	_ "ladderbot/pkg/exchange/paper"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v1.0-dev"
	}
	log.Printf("[main] ladderbot %s starting (instance %s, port %s)",
		buildVersion, ident.InstanceID(), cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Credential keyring and account configs.
	keyring, err := crypto.LoadKeyring()
	if err != nil {
		log.Fatalf("load keyring: %v", err)
	}
	accounts, err := config.LoadAccounts(cfg.AccountsPath, keyring)
	if err != nil {
		log.Fatalf("load accounts: %v", err)
	}
	symbols, err := config.LoadSymbols(cfg.SymbolsPath)
	if err != nil {
		log.Fatalf("load symbols: %v", err)
	}
	log.Printf("[main] %d accounts, %d symbols configured", len(accounts), len(symbols))

	// Trade store.
	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("apply migrations: %v", err)
	}

	// Core services.
	bus := events.NewBus()
	led := ledger.New()
	metrics := monitor.NewMetrics()

	// Tripped pairs stay tripped across restarts.
	if n, err := persistence.RestorePairStatus(ctx, database, led); err != nil {
		log.Printf("[main] restore pair status: %v", err)
	} else if n > 0 {
		log.Printf("[main] %d pairs restored inactive", n)
	}

	riskCfg := risk.DefaultConfig()
	riskCfg.Cooldown = cfg.RiskCooldown
	riskCtl, err := risk.NewControl(riskCfg, bus)
	if err != nil {
		log.Fatalf("risk config: %v", err)
	}

	marketFeed := feed.New(feed.Config{
		Permits:        cfg.FeedPermits,
		MaxRetries:     cfg.MaxRetries,
		BackoffBase:    cfg.BackoffBase,
		RequestsPerSec: cfg.RequestsPerSec,
		CandleTTL:      cfg.CandleTTL,
		Metrics:        metrics,
	}, led, bus)

	// Connection supervision: each account registers with the symbols
	// assigned to it; dry run reroutes every account to the paper venue.
	conns := conn.NewSupervisor(led, riskCtl, bus)
	symbolNames := make([]string, 0, len(symbols))
	assigned := make(map[string][]string)
	for _, sc := range symbols {
		symbolNames = append(symbolNames, sc.Symbol)
		for _, acct := range sc.Accounts {
			assigned[acct] = append(assigned[acct], sc.Symbol)
		}
	}
	for _, ac := range accounts {
		if cfg.DryRun {
			ac.Exchange = "paper"
		}
		syms := assigned[ac.ID]
		if len(syms) == 0 {
			syms = symbolNames
		}
		conns.Register(ac, syms)
	}
	go conns.RunSweep(ctx, cfg.SweepInterval)

	predictor := predict.ForURL(cfg.PredictorURL, 10*time.Second)
	if cfg.PredictorURL != "" {
		log.Printf("[main] using remote predictor at %s", cfg.PredictorURL)
	}

	// Account supervision: one trading loop per account/symbol pair.
	opts := loop.DefaultOptions()
	opts.Timeframe = cfg.PredictTimeframe
	opts.CandleLimit = cfg.PredictCandles
	opts.Metrics = metrics
	accountSup := account.NewSupervisor(ctx, conns, led, marketFeed, riskCtl, predictor, bus, opts, symbols)
	for _, ac := range accounts {
		if err := accountSup.Start(ctx, ac.ID); err != nil {
			log.Printf("[main] start account %s: %v", ac.ID, err)
		}
	}

	// Trade persistence: CSV per account plus batched SQLite writes.
	csvSink, err := persistence.NewCSVSink(cfg.CSVDir)
	if err != nil {
		log.Fatalf("csv sink: %v", err)
	}
	dbSink := persistence.NewDBSink(database, 50, 500*time.Millisecond)
	sink := persistence.NewMultiSink(csvSink, dbSink)
	go persistence.RunPump(ctx, bus, sink, database)

	// Control-panel API.
	server := api.NewServer(bus, database, led, conns, accountSup, metrics, api.SystemMeta{
		DryRun:  cfg.DryRun,
		Symbols: symbolNames,
		Version: buildVersion,
	}, cfg.JWTSecret)
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("[main] shutting down")

	// Stop loops first so no new trades are produced, then drain sinks.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	accountSup.StopAll(shutdownCtx)
	cancel()
	if err := sink.Close(); err != nil {
		log.Printf("[main] close sinks: %v", err)
	}
	bus.Close()
	log.Println("[main] shutdown complete")
}
