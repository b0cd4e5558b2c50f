package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"SweepSentinel/internal/bias"
	"SweepSentinel/internal/clock"
	"SweepSentinel/internal/collector"
	"SweepSentinel/internal/config"
	"SweepSentinel/internal/confirm"
	"SweepSentinel/internal/dispatch"
	"SweepSentinel/internal/metrics"
	"SweepSentinel/internal/notifier"
	"SweepSentinel/internal/scheduler"
	"SweepSentinel/internal/store"
	"SweepSentinel/internal/swing"
	"SweepSentinel/internal/util"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func main() {
	// A missing .env is fine, the process environment is used as is.
	_ = godotenv.Load()

	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		bootLog := util.NewLogger("info")
		bootLog.Fatal().Err(err).Msg("load config")
	}
	log := util.NewLogger(cfg.Log.Level)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("config validation")
	}
	log.Info().Str("symbol", cfg.DataSource.Symbol).Msg("SweepSentinel starting...")

	clk := clock.System{}

	// Init store
	var st store.Store
	if cfg.Database.SQLitePath != "" {
		ss, err := store.NewSQLiteStore(cfg.Database.SQLitePath, log)
		if err != nil {
			log.Fatal().Err(err).Msg("init sqlite store")
		}
		defer ss.Close()
		st = ss
	} else {
		log.Warn().Msg("no sqlite path configured, state will not survive a restart")
		st = store.NewMemoryStore()
	}

	// Init fetcher
	fetcher := newFetcher(cfg, clk, log)
	log.Info().Str("provider", fetcher.Name()).Msg("data source ready")
	col := collector.NewCollector(fetcher, cfg.DataSource.Symbol, clk, log)

	// Init dispatcher and notifier
	var sinks []dispatch.Sink
	var tn *notifier.TelegramNotifier
	if cfg.TelegramEnabled() {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy, log)
		sinks = append(sinks, tn)
	} else {
		log.Warn().Msg("telegram not configured, confirmations are only logged")
	}
	disp, err := dispatch.NewDispatcher(cfg.Dispatch.LedgerFile, cfg.Dispatch.Capacity, st, clk, log, sinks...)
	if err != nil {
		log.Fatal().Err(err).Msg("init dispatcher")
	}

	// Init detection pipeline
	tracker := swing.NewTracker(st, clk, log)
	machine := confirm.NewMachine(st, col, tracker, disp, clk, cfg.Detection.FineWindow, log)
	disp.SetBuilder(machine)
	scanner := bias.NewScanner(st, col, tracker, clk, cfg.Detection.CoarseLookback, log)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	report, err := machine.Recover(ctx)
	if err != nil {
		log.Error().Err(err).Msg("startup recovery")
	}
	log.Info().
		Int("loaded", report.Loaded).
		Int("expired", report.Expired).
		Int("resumed", report.Resumed).
		Int("unchecked", report.Unchecked).
		Int("sweeps_released", report.SweepsReleased).
		Msg("startup recovery done")
	if n, err := disp.Redeliver(ctx); err != nil {
		log.Error().Err(err).Msg("startup redelivery")
	} else if n > 0 {
		log.Info().Int("count", n).Msg("redelivered confirmations missed before restart")
	}

	srv, err := metrics.Serve(cfg.Metrics.Addr, log)
	if err != nil {
		log.Fatal().Err(err).Msg("start metrics endpoint")
	}
	log.Info().Str("addr", srv.Addr).Msg("metrics endpoint listening")

	// Init scheduler
	sched := scheduler.NewScheduler(ctx, scanner, machine, disp, log)
	if err := sched.RegisterAll(cfg.Schedule.CoarseCron, cfg.Schedule.FineCron, cfg.Schedule.MaintenanceCron); err != nil {
		log.Fatal().Err(err).Msg("register cron tasks")
	}
	sched.Start()
	defer sched.Stop()

	// Start Telegram polling
	if tn != nil {
		go tn.StartPolling(ctx, sched.HandleCommand)
		log.Info().Msg("telegram polling started")
	}

	// Optional: run immediately on start
	if os.Getenv("RUN_ON_START") == "true" {
		log.Info().Msg("RUN_ON_START enabled, executing coarse task now")
		go sched.RunCoarseNow()
	}

	log.Info().Msg("SweepSentinel is running. Press Ctrl+C to stop.")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutdown signal received, stopping...")
	cancel()
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("metrics shutdown")
	}
	log.Info().Msg("SweepSentinel stopped")
}

func newFetcher(cfg *config.Config, clk clock.Clock, log zerolog.Logger) collector.Fetcher {
	switch cfg.DataSource.Provider {
	case "yahoo":
		return collector.NewYahooFetcher(cfg.Proxy)
	case "mock":
		log.Warn().Msg("using mock data source")
		return &collector.MockFetcher{Price: decimal.NewFromInt(60000), Clock: clk}
	default:
		return collector.NewVsTraderFetcher(cfg.DataSource.BaseURL, cfg.DataSource.APIKey, cfg.Proxy)
	}
}
