package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/app"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/engine"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/exchange"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/execution"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/infra"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/marketdata"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "net/http/pprof" // profiling endpoint
)

func main() {
	// Localhost only for security.
	go func() {
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Shutdown()

	cfg := bootstrap.Config

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Prometheus scrape endpoint.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		slog.Info("📈 Metrics server started", "addr", cfg.Metrics.ListenAddr)
		if err := http.ListenAndServe(cfg.Metrics.ListenAddr, mux); err != nil {
			slog.Error("Metrics server failed", slog.Any("error", err))
		}
	}()

	limiter := infra.NewRateLimiter(cfg.Binance.WeightPerMinute, time.Minute)
	client := exchange.NewClient(cfg, limiter, bootstrap.Metrics)
	defer client.Close()

	hub := marketdata.NewHub(cfg, client, bootstrap.Metrics)
	hub.Start(ctx)
	defer hub.Stop()
	slog.InfoContext(ctx, "✅ Market data hub started")

	poller := exchange.NewTickerPoller(client, time.Minute, nil)
	if err := poller.Start(ctx); err != nil {
		slog.Error("Failed to start 24h stats poller", slog.Any("error", err))
	}
	defer poller.Stop()
	slog.InfoContext(ctx, "✅ 24h stats poller started")

	meta := exchange.NewMeta(client)
	mode, err := execution.ParseMode(cfg.Trading.Mode)
	if err != nil {
		slog.Error("❌ Invalid trading mode", slog.Any("error", err))
		return
	}

	eng, err := engine.New(engine.Options{
		Config:  cfg,
		Books:   hub,
		Stats:   poller,
		Advisor: bootstrap.Advisor(),
		Params:  bootstrap.Params,
		Rounder: meta,
		Client:  client,
		NewFiller: func() (execution.Filler, error) {
			return execution.NewFiller(mode, cfg, client, nil)
		},
		Audit:     bootstrap.Audit,
		Store:     bootstrap.Store,
		Snapshots: bootstrap.Snapshots(),
		Metrics:   bootstrap.Metrics,
	})
	if err != nil {
		slog.Error("❌ Engine construction failed", slog.Any("error", err))
		return
	}

	slog.InfoContext(ctx, "✨ TITAN bot fully operational. Press Ctrl+C to exit.")
	if err := eng.Run(ctx); err != nil {
		slog.Error("Engine stopped with error", slog.Any("error", err))
	}

	slog.Info("👋 Shutting down gracefully...")
}
