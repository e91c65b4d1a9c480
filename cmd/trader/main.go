package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/acortes/kalmaker/config"
	"github.com/acortes/kalmaker/internal/adapters/kalshi"
	"github.com/acortes/kalmaker/internal/adapters/notify"
	"github.com/acortes/kalmaker/internal/adapters/storage"
	"github.com/acortes/kalmaker/internal/adapters/ticks"
	"github.com/acortes/kalmaker/internal/engine"
	"github.com/acortes/kalmaker/internal/ports"
	"github.com/acortes/kalmaker/internal/strategy"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	paper := flag.Bool("paper", false, "evaluate and log, never place real orders")
	snapshot := flag.Bool("snapshot", false, "capture a daily snapshot from the exchange, print it with today's orders, then exit")
	status := flag.Bool("status", false, "render the trader status file, then exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	if *status {
		printStatus(cfg.Trader.StatusPath)
		return
	}

	store, err := storage.NewSQLiteStore(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	creds, err := kalshi.LoadCredentials(cfg.API.KeyID, cfg.API.PrivateKeyPath)
	if err != nil {
		slog.Error("failed to load exchange credentials", "err", err)
		os.Exit(1)
	}
	client := kalshi.NewClient(cfg.API.BaseURL, creds)

	if *snapshot {
		takeSnapshot(store, client, cfg)
		return
	}

	slog.Info("kalmaker starting",
		"config", *configPath,
		"strategy", cfg.Strategy.Name,
		"ticks_dir", cfg.Ticks.Dir,
		"paper", *paper,
	)

	maker := strategy.NewMaker(cfg.Strategy.Name, makerConfig(cfg))
	budget := engine.NewBudget(engine.BudgetConfig{
		RiskFraction: cfg.Budget.RiskFraction,
		ResetHour:    cfg.Budget.ResetHour,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eng, err := engine.New(ctx, engine.Config{
		LoopInterval:       cfg.LoopInterval(),
		SyncInterval:       cfg.SyncInterval(),
		StatusPath:         cfg.Trader.StatusPath,
		SnapshotPath:       cfg.Trader.SnapshotPath,
		ControlFlagPath:    cfg.Trader.ControlFlagPath,
		CrashLogPath:       cfg.Trader.CrashLogPath,
		Paper:              *paper,
		InventoryPerDollar: cfg.Budget.InventoryPerDollar,
	}, slog.Default(), client, ticks.NewFileSource(cfg.Ticks.Dir), store, maker, budget)
	if err != nil {
		slog.Error("engine refused to start", "err", err)
		os.Exit(1)
	}

	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("engine exited with error", "err", err)
		os.Exit(1)
	}

	slog.Info("kalmaker stopped cleanly")
}

// takeSnapshot captures the account's current state as today's snapshot,
// persists it, and prints it with the day's order log.
func takeSnapshot(store *storage.SQLiteStore, client *kalshi.Client, cfg *config.Config) {
	ctx := context.Background()
	console := notify.NewConsole()

	bal, err := client.Balance(ctx)
	if err != nil {
		slog.Error("failed to fetch balance", "err", err)
		os.Exit(1)
	}
	positions, err := client.Positions(ctx)
	if err != nil {
		slog.Error("failed to fetch positions", "err", err)
		os.Exit(1)
	}

	now := time.Now()
	snap := ports.Snapshot{
		Date:             now.Format(time.DateOnly),
		Timestamp:        now,
		DailyStartEquity: bal.Cash + bal.PortfolioValue,
		Balance:          bal.Cash,
		PortfolioValue:   bal.PortfolioValue,
		Positions:        positions,
		StrategyName:     cfg.Strategy.Name,
		RiskFraction:     cfg.Budget.RiskFraction,
	}
	if err := store.SaveSnapshot(ctx, snap); err != nil {
		slog.Error("failed to save snapshot", "err", err)
		os.Exit(1)
	}
	if err := engine.WriteSnapshotFile(cfg.Trader.SnapshotPath, snap); err != nil {
		slog.Warn("snapshot file write failed", "err", err)
	}
	console.PrintSnapshot(snap, true)
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	records, err := store.OrdersSince(ctx, startOfDay)
	if err != nil {
		slog.Error("failed to read orders", "err", err)
		os.Exit(1)
	}
	console.PrintOrders(records)
}

func printStatus(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("failed to read status file", "err", err, "path", path)
		os.Exit(1)
	}
	var s engine.Status
	if err := json.Unmarshal(data, &s); err != nil {
		slog.Error("failed to parse status file", "err", err, "path", path)
		os.Exit(1)
	}

	in := notify.StatusInput{
		Timestamp:        s.Timestamp,
		Date:             s.Date,
		State:            s.State,
		TradingEnabled:   s.TradingEnabled,
		Paper:            s.Paper,
		Balance:          s.Balance,
		PortfolioValue:   s.PortfolioValue,
		DailyStartEquity: s.DailyStartEquity,
		SpendableCash:    s.SpendableCash,
		OrdersToday:      s.OrdersToday,
		Positions:        s.Positions,
	}
	for _, d := range s.Decisions {
		in.Decisions = append(in.Decisions, d)
	}
	notify.NewConsole().PrintStatus(in)
}

func makerConfig(cfg *config.Config) strategy.Config {
	mc := strategy.DefaultConfig()
	mc.FairWindow = cfg.Strategy.FairWindow
	mc.SpreadWindow = cfg.Strategy.SpreadWindow
	mc.SpreadMinSamples = cfg.Strategy.SpreadMinSamples
	mc.TightnessPercentile = cfg.Strategy.TightnessPercentile
	mc.MarginCents = cfg.Strategy.MarginCents
	mc.ScalingCents = cfg.Strategy.ScalingCents
	mc.MaxNotionalFrac = cfg.Strategy.MaxNotionalFrac
	mc.MaxLossFrac = cfg.Strategy.MaxLossFrac
	mc.InventoryPenaltyK = cfg.Strategy.InventoryPenaltyK
	mc.OrderTTL = cfg.OrderTTL()

	mc.ActiveHours = mc.ActiveHours[:0]
	for _, h := range cfg.Strategy.ActiveHours {
		mc.ActiveHours = append(mc.ActiveHours, strategy.HourRange{From: h.From, To: h.To})
	}
	return mc
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
