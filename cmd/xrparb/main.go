package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"xrparb/internal/config"
	"xrparb/internal/database"
	"xrparb/internal/engine"
	"xrparb/internal/exchange"
	"xrparb/internal/executor"
	"xrparb/internal/ledger"
	"xrparb/internal/metrics"
	"xrparb/internal/model"
	"xrparb/internal/monitor"
	"xrparb/internal/redisfeed"
	"xrparb/internal/risk"
	"xrparb/internal/server"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("cannot load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error("cannot connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	repo := database.NewPostgresRepository(pool)
	if err := repo.Migrate(ctx); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}

	markets := []model.Market{model.MarketUSDT, model.MarketUSDC}
	stream, quotes, placer := exchange.Build(cfg.Exchange, cfg.Executor.SlippageLimit, markets, logger)

	mon := monitor.New(quotes, cfg.Monitor, logger)
	led := ledger.New(cfg.Ledger.InitialBalances)
	riskCtrl := risk.NewController(cfg.Risk, cfg.Arbitrage.FreshnessBound)
	exec := executor.New(placer, led, cfg.Executor, cfg.Exchange.OrderTimeout, logger)
	feed := redisfeed.NewPublisher(cfg.Redis)
	defer feed.Close()

	eng := engine.New(mon, riskCtrl, exec, led, repo, feed, engine.Config{
		TickInterval:     cfg.Arbitrage.TickInterval,
		TradeAmount:      cfg.Arbitrage.TradeAmount,
		FreshnessBound:   cfg.Arbitrage.FreshnessBound,
		Cooldown:         cfg.Risk.Cooldown,
		PriceSampleEvery: 6,
	}, logger)

	api := server.New(cfg.Server.Addr, eng, mon, led, repo, logger)

	g, gctx := errgroup.WithContext(ctx)
	if stream != nil {
		g.Go(func() error { return stream.Run(gctx) })
	}
	g.Go(func() error { return mon.Run(gctx) })
	g.Go(func() error { return metrics.Serve(gctx, cfg.Metrics.Addr, logger) })
	g.Go(func() error { return api.Run(gctx) })

	eng.Start(gctx)

	logger.Info("xrparb started",
		slog.Bool("paper", cfg.Exchange.Paper),
		slog.String("api", cfg.Server.Addr))

	<-gctx.Done()

	// Stop blocks until an in-flight attempt reaches a terminal state.
	eng.Stop()

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	logger.Info("xrparb stopped")
}
