package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"hodlbot/internal/broker"
	"hodlbot/internal/config"
	"hodlbot/internal/desk"
	"hodlbot/internal/engine"
	"hodlbot/internal/journal"
	"hodlbot/internal/md"
	"hodlbot/internal/metrics"
	"hodlbot/internal/money"
	"hodlbot/internal/paper"
	"hodlbot/internal/position"
	"hodlbot/internal/risk"
	"hodlbot/internal/state"
	"hodlbot/internal/strategy"
	"hodlbot/internal/trade"
	"hodlbot/internal/trend"
	"hodlbot/internal/venue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := run(cfg); err != nil {
		log.Fatalf("run stopped: %v", err)
	}
}

func run(cfg config.Config) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	runID := generateRunID()
	decisions, err := engine.NewDecisionLogger(cfg.DecisionsPath, runID, logger)
	if err != nil {
		return fmt.Errorf("decision logger: %w", err)
	}
	defer func() {
		if err := decisions.Close(); err != nil {
			logger.Error("failed to close decision logger", "error", err)
		}
	}()

	previous := state.NewStore("")
	if err := previous.Load(cfg.CheckpointPath); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("ignoring unreadable checkpoint", "path", cfg.CheckpointPath, "error", err)
		}
	} else {
		snap := previous.Snapshot()
		logger.Info("loaded checkpoint", "path", cfg.CheckpointPath, "run_id", snap.RunID, "ticks", snap.Stats.Ticks)
		if len(snap.OpenOrders) > 0 {
			logger.Warn("previous run left orders open", "run_id", snap.RunID, "count", len(snap.OpenOrders))
		}
	}
	store := state.NewStore(runID)

	var orders engine.Journal
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath, runID, cfg.Symbol)
		if err != nil {
			return err
		}
		defer j.Close()
		orders = j
	}

	stake, quote := money.Currency(cfg.Stake), money.Currency(cfg.Quote)
	minimum := money.New(cfg.MinOrderSize, stake)

	var (
		gateway venue.Gateway
		fills   desk.FillSource
		source  position.Source
	)
	switch cfg.Mode {
	case config.ModePaper:
		client := broker.New(broker.Config{
			APIKey:       cfg.APIKey,
			APISecret:    cfg.APISecret,
			BaseURL:      cfg.BaseURL,
			Symbol:       cfg.Symbol,
			Stake:        stake,
			Quote:        quote,
			MinOrderSize: minimum,
		}, logger)
		gateway, fills, source = client, desk.VenueFills{}, client
	default:
		books := md.NewRandomWalk(md.RandomWalkConfig{
			Seed:   cfg.Seed,
			Start:  money.New(cfg.StartPrice, quote),
			Step:   decimal.RequireFromString("0.002"),
			Spread: decimal.RequireFromString("0.0002"),
			Depth:  money.New(decimal.NewFromInt(1), stake),
		})
		gateway = paper.New(books, money.Balances{quote: money.New(cfg.StartBalance, quote)}, minimum, logger)
		fills = desk.NewSimulatedFills(cfg.Seed, cfg.FillProbability, logger)
	}

	d := desk.New(gateway,
		desk.WithFillSource(fills),
		desk.WithLogger(logger),
		desk.WithLimits(risk.Limits{
			MaxNotional: money.New(cfg.MaxNotional, quote),
			KillSwitch:  cfg.KillSwitch,
		}),
	)
	tracker := position.NewTracker(d, source, position.Config{
		Stake:             stake,
		Quote:             quote,
		TargetedProfitPct: cfg.TargetedProfitPct,
		AcceptableLossPct: cfg.AcceptableLossPct,
	}, logger)
	var strat strategy.Strategy
	switch cfg.Strategy {
	case config.StrategyMarketMaking:
		strat, err = strategy.NewMarketMaking(d, tracker, gateway, strategy.MarketMakingConfig{
			Stake:            stake,
			Quote:            quote,
			BaseVolume:       money.New(cfg.MMBaseVolume, stake),
			Spread:           cfg.MMSpread,
			SpreadAdjustCoef: cfg.MMSpreadAdjust,
			SpreadCoefOnLoss: cfg.MMSpreadOnLoss,
			MinSpread:        cfg.MMMinSpread,
		}, logger)
	default:
		strat, err = strategy.NewHodl(d, tracker, strategy.Config{
			Stake:  stake,
			Quote:  quote,
			Volume: money.New(cfg.Volume, stake),
			Trend: trend.Config{
				BullPeriods: cfg.BullPeriods,
				BullTrend:   cfg.BullTrend,
				BearPeriods: cfg.BearPeriods,
				BearTrend:   cfg.BearTrend,
			},
			Trade: trade.Params{
				Stake:             stake,
				Quote:             quote,
				Entry:             desk.Kind(cfg.EntryKind),
				Timeout:           cfg.Timeout,
				TargetedProfitPct: cfg.TargetedProfitPct,
				AcceptableLossPct: cfg.AcceptableLossPct,
			},
		}, logger)
	}
	if err != nil {
		return fmt.Errorf("strategy: %w", err)
	}
	engineImpl := engine.New(engine.Config{Symbol: cfg.Symbol, Live: cfg.Mode == config.ModePaper},
		gateway, d, strat, store, decisions, orders, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return engineImpl.Run(gctx, cfg.TickInterval)
	})
	if cfg.MetricsAddr != "" {
		group.Go(func() error {
			return metrics.Serve(gctx, cfg.MetricsAddr, logger)
		})
	}

	logger.Info("starting bot", "run_id", runID, "mode", cfg.Mode, "strategy", cfg.Strategy, "symbol", cfg.Symbol, "volume", cfg.Volume.String(), "tick", cfg.TickInterval)
	runErr := group.Wait()

	if err := store.Save(cfg.CheckpointPath); err != nil {
		logger.Error("failed to save checkpoint", "path", cfg.CheckpointPath, "error", err)
	}
	stats := strat.Stats()
	logger.Info("bot shutdown complete", "strategy", cfg.Strategy, "quotes", stats.Quotes, "trades", stats.Opened, "profit", stats.Profit, "loss", stats.Loss, "timeout", stats.Timeout, "orders", d.Len())
	return runErr
}

func generateRunID() string {
	timestamp := time.Now().UTC().Format("20060102T150405")
	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		return timestamp
	}
	return timestamp + "-" + hex.EncodeToString(randomBytes)
}
