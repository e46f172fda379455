package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"portsim/internal/bootstrap"
	"portsim/internal/dataset"
	"portsim/internal/market"
	"portsim/internal/policy"
	"portsim/internal/simulator"
	"portsim/internal/store"
	"portsim/pkg/cli"
	"portsim/pkg/concurrency"
	"portsim/pkg/telemetry"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

const dateLayout = "2006-01-02"

func main() {
	configPath := flag.String("config", "", "Path to configuration file (empty uses defaults)")
	startStr := flag.String("start", "", "First simulated date (YYYY-MM-DD, empty runs from the dataset start)")
	endStr := flag.String("end", "", "Last simulated date (YYYY-MM-DD, empty runs to the dataset end)")
	policiesStr := flag.String("policies", "hold,uniform", "Comma-separated policies to backtest (hold, uniform)")
	symbolsStr := flag.String("symbols", "AAA,BBB,CCC", "Comma-separated symbols to load from the bar cache")
	parallel := flag.Bool("parallel", false, "Run policies as parallel units")
	downsample := flag.String("downsample", "", "Downsample the dataset (weekly, monthly, quarterly, annual)")
	sampleDays := flag.Int("sample-days", 0, "Seed the cache with this many synthetic bars per symbol before running")
	verbose := flag.Bool("verbose", false, "Debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("backtest version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	level := ""
	if *verbose {
		level = "debug"
	}
	app, err := bootstrap.NewAppWithLevel(*configPath, level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	logger := app.Logger
	cfg := app.Cfg

	for _, raw := range []string{*policiesStr, *symbolsStr, *downsample} {
		if err := cli.ValidateInput(raw); err != nil {
			logger.Fatal("Rejected flag value", "value", raw, "error", err)
		}
	}

	if err := telemetry.InitMetrics(); err != nil {
		logger.Warn("Failed to initialize metrics exporter", "error", err)
	}

	symbols := splitList(*symbolsStr)
	cache := dataset.NewCache(cfg.Data.CacheDir)
	if *sampleDays > 0 {
		logger.Info("Seeding sample bars", "symbols", symbols, "days", *sampleDays)
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

	if *downsample != "" {
		freq, err := market.ParseFrequency(*downsample)
		if err != nil {
			logger.Fatal("Invalid downsample frequency", "error", err)
		}
		if err := ds.Downsample(freq); err != nil {
			logger.Fatal("Failed to downsample dataset", "error", err)
		}
	}

	times := ds.Times()
	start, end := times[0], times[len(times)-1]
	if *startStr != "" {
		if start, err = time.Parse(dateLayout, *startStr); err != nil {
			logger.Fatal("Invalid start date", "error", err)
		}
	}
	if *endStr != "" {
		if end, err = time.Parse(dateLayout, *endStr); err != nil {
			logger.Fatal("Invalid end date", "error", err)
		}
		end = end.Add(24*time.Hour - time.Nanosecond)
	}

	policies, err := buildPolicies(splitList(*policiesStr))
	if err != nil {
		logger.Fatal("Invalid policy list", "error", err)
	}

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "backtest",
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
	results, err := orch.RunAll(ds, policies, simulator.RunOptions{
		Start:        start,
		End:          end,
		InitialValue: cfg.Simulator.InitialValue,
		Parallel:     *parallel,
	})
	if err != nil {
		logger.Fatal("Backtest failed", "error", err)
	}

	var runs store.RunStore = store.NewMemoryStore()
	if cfg.Persistence.SQLitePath != "" {
		sqlStore, err := store.NewSQLiteStore(cfg.Persistence.SQLitePath)
		if err != nil {
			logger.Warn("Run persistence unavailable", "error", err)
		} else {
			runs = sqlStore
			defer sqlStore.Close()
		}
	}

	for _, res := range results {
		fmt.Println(res.String())
		run := store.NewRunFromSummary(uuid.NewString(), res.Summarize())
		if err := runs.SaveRun(context.Background(), run); err != nil {
			logger.Warn("Failed to persist run", "policy", run.Policy, "error", err)
		}
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

func buildPolicies(names []string) ([]policy.Policy, error) {
	out := make([]policy.Policy, 0, len(names))
	for _, name := range names {
		switch name {
		case "hold":
			out = append(out, policy.Hold{})
		case "uniform":
			out = append(out, policy.Uniform{})
		default:
			return nil, fmt.Errorf("unknown policy %q (want hold or uniform)", name)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no policies given")
	}
	return out, nil
}
