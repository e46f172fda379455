package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"portsim/internal/api"
	"portsim/internal/bootstrap"
	"portsim/internal/dataset"
	"portsim/internal/infrastructure/metrics"
	"portsim/internal/simulator"
	"portsim/internal/store"
	"portsim/pkg/concurrency"
	"portsim/pkg/telemetry"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/backtestd.yaml", "Path to configuration file")
	symbolsStr := flag.String("symbols", "AAA,BBB,CCC", "Comma-separated symbols to load from the bar cache")
	sampleDays := flag.Int("sample-days", 0, "Seed the cache with this many synthetic bars per symbol on startup")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("backtestd version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	app, err := bootstrap.NewApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	logger := app.Logger
	cfg := app.Cfg

	logger.Info("Starting backtestd", "version", version, "api", cfg.Server.APIAddress, "metrics", cfg.Server.MetricsAddress)

	if err := telemetry.InitMetrics(); err != nil {
		logger.Warn("Failed to initialize metrics exporter", "error", err)
	}

	// Load the dataset once; every backtest works against deep copies.
	symbols := splitList(*symbolsStr)
	cache := dataset.NewCache(cfg.Data.CacheDir)
	if *sampleDays > 0 {
		if err := dataset.WriteSampleBars(cache, symbols, *sampleDays, 1); err != nil {
			logger.Fatal("Failed to seed sample bars", "error", err)
		}
	}
	loader := &dataset.Loader{
		Cache:          cache,
		CashKey:        cfg.Data.CashKey,
		MinHistory:     cfg.Data.MinHistory,
		CashAnnualRate: cfg.Data.CashAnnualRate,
		Logger:         logger,
	}
	ds, err := loader.Build(context.Background(), symbols)
	if err != nil {
		logger.Fatal("Failed to build dataset", "error", err)
	}

	var runs store.RunStore = store.NewMemoryStore()
	if cfg.Persistence.SQLitePath != "" {
		sqlStore, err := store.NewSQLiteStore(cfg.Persistence.SQLitePath)
		if err != nil {
			logger.Fatal("Failed to open run store", "error", err)
		}
		runs = sqlStore
		defer sqlStore.Close()
	}

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "backtestd",
		MaxWorkers:  cfg.Orchestrator.MaxWorkers,
		MaxCapacity: cfg.Orchestrator.MaxCapacity,
	}, logger)
	defer pool.Stop()

	stepOpts := simulator.DefaultOptions()
	stepOpts.RoundTrades = cfg.Simulator.RoundTrades
	stepOpts.Transaction.PerShareCost = cfg.Simulator.PerShareCost
	stepOpts.Transaction.NonlinearCoeff = cfg.Simulator.NonlinearCoeff
	stepOpts.Transaction.VolatilityWindow = cfg.Simulator.VolatilityWindow
	stepOpts.Holding.BorrowSpread = cfg.Simulator.BorrowSpread
	stepOpts.Cash.FloorSpread = cfg.Simulator.CashFloorSpread
	stepOpts.Dividends = loader.Dividends()
	orch := simulator.NewOrchestrator(pool, logger, stepOpts)

	apiServer := api.NewServer(orch, ds, runs, logger, string(cfg.Server.AuthToken))
	metricsServer := metrics.NewServer(cfg.Server.MetricsAddress, logger)

	err = app.Run(
		bootstrap.RunnerFunc(func(ctx context.Context) error {
			srv := &http.Server{Addr: cfg.Server.APIAddress, Handler: apiServer.Handler()}
			errCh := make(chan error, 1)
			go func() {
				logger.Info("API server listening", "addr", cfg.Server.APIAddress)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()
			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		}),
		bootstrap.RunnerFunc(func(ctx context.Context) error {
			metricsServer.Start()
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Stop(shutdownCtx)
		}),
	)
	if err != nil {
		os.Exit(1)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
