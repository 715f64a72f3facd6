// Hyperliquid Engine — a multi-tenant trading-strategy execution engine.
//
// Architecture:
//
//	main.go              — entry point: loads config, wires the adapters, waits for SIGINT/SIGTERM
//	engine/supervisor.go — reconciles the bot fleet from the row store, ticks each bot once per second
//	engine/bot.go        — one bot: strategy evaluator + position manager + per-bot market-data caches
//	strategy/*           — the decision procedures (imbalance v1/v2, momentum, multi-timeframe dip,
//	                       liquidity grab, support liquidity)
//	position/manager.go  — paper-position lifecycle: sizing, break-even protection, SL/TP exits, tiles
//	marketdata/client.go — Hyperliquid /info client with per-call pacing and a circuit breaker
//	levels/levels.go     — support/resistance detection by touch counting
//	scanner/worker.go    — periodic level scan over the most liquid symbols, published to the store
//	api/server.go        — health, on-demand levels and a websocket stream of level updates
//	store/*              — PostgREST adapters for bots, positions, trades, logs and scanner levels
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"hyperliquid-engine/internal/api"
	"hyperliquid-engine/internal/config"
	"hyperliquid-engine/internal/engine"
	"hyperliquid-engine/internal/marketdata"
	"hyperliquid-engine/internal/scanner"
	"hyperliquid-engine/internal/store"
)

func main() {
	// Local development convenience; deployments set the environment directly.
	_ = godotenv.Load()

	cfgPath := os.Getenv("ENGINE_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	rest := store.NewClient(cfg.Supabase, logger)

	// The supervisor and the scanner each get their own market-data client so
	// one side's pacing never starves the other.
	deps := engine.Deps{
		Market:    marketdata.NewClient(cfg.Exchange, logger),
		Bots:      store.NewBotStore(rest),
		Positions: store.NewPositionStore(rest),
		Logs:      store.NewLogStore(rest),
		Levels:    store.NewLevelStore(rest),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var apiServer *api.Server
	scanMarket := marketdata.NewClient(cfg.Exchange, logger)
	scanCandles := marketdata.NewCandleCache(scanMarket, cfg.Scanner.CandleTTL, logger)

	if cfg.Server.Enabled {
		apiServer = api.NewServer(cfg.Server, scanMarket, scanCandles, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("api server failed", "error", err)
			}
		}()
		logger.Info("api server started", "url", fmt.Sprintf("http://localhost:%d", cfg.Server.Port))
	}

	if cfg.Scanner.Enabled {
		var publisher scanner.Publisher
		if apiServer != nil {
			publisher = apiServer.Hub()
		}
		worker := scanner.NewWorker(scanMarket, scanCandles, deps.Levels, publisher, cfg.Scanner, logger)
		go func() {
			if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("scanner stopped", "error", err)
			}
		}()
	}

	if cfg.Supervisor.Enabled {
		supervisor := engine.NewSupervisor(deps, cfg, logger)
		go func() {
			if err := supervisor.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("supervisor stopped", "error", err)
			}
		}()
	}

	logger.Info("engine started",
		"supervisor", cfg.Supervisor.Enabled,
		"scanner", cfg.Scanner.Enabled,
		"api", cfg.Server.Enabled,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()
	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop api server", "error", err)
		}
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
