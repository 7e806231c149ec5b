// Trading Simulator — a self-contained BTC/USD exchange sandbox with a
// price-time matching engine, per-session accounts and a live event stream.
//
// Architecture:
//
//	main.go             — entry point: loads config, wires the core, waits for SIGINT/SIGTERM
//	engine/engine.go    — trading core: validation, funds policy, halting, event assembly
//	engine/match.go     — price-time matching pass over the resting book
//	book/book.go        — btree price ladders with FIFO order queues per level
//	ledger/ledger.go    — account balances, trade log, conservation checks
//	session/registry.go — cookie token → account resolution
//	bus/bus.go          — fan-out event bus with bounded per-subscriber queues
//	market/simulator.go — random-walk reference price feed
//	api/server.go       — REST + WebSocket surface with Prometheus metrics
//
// Everything lives in one in-memory core guarded by a single mutex; there is
// no persistence. A restart resets the world: every session starts over with
// the configured cash and asset balances.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"tradesim/internal/api"
	"tradesim/internal/bus"
	"tradesim/internal/config"
	"tradesim/internal/engine"
	"tradesim/internal/market"
)

func main() {
	// Load config. The default file is optional; built-in defaults cover a
	// missing one. A path given via CONFIG_PATH must exist.
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		if _, err := os.Stat("configs/config.yaml"); err == nil {
			cfgPath = "configs/config.yaml"
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)}
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	// Wire the core: bus ← engine ← market feed, all served by the API.
	events := bus.New(cfg.Bus.QueueSize)
	core := engine.New(cfg, events, logger)
	server := api.NewServer(cfg, core, events, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Market.Enabled {
		sim := market.New(cfg, core, events, logger)
		go sim.Run(ctx)
	}

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("api server failed", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("trading simulator started",
		"addr", cfg.Server.Addr,
		"symbol", cfg.Trading.Symbol,
		"tick_size", cfg.Trading.TickSize,
		"start_cash", cfg.Trading.StartCash,
		"market_feed", cfg.Market.Enabled,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()
	if err := server.Stop(); err != nil {
		logger.Error("failed to stop api server", "error", err)
	}
	events.Close()
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
