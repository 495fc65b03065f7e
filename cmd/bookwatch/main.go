// Command bookwatch streams live order books to the console: top of
// book, spread and near-touch depth per tracked symbol. Diagnostic
// companion to the main bot, read-only against the venue.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/exchange"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/infra"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/marketdata"
)

func main() {
	symbolsFlag := flag.String("symbols", "BTCUSDT,ETHUSDT", "comma-separated symbols to watch")
	interval := flag.Duration("interval", time.Second, "print interval")
	depth := flag.Int("depth", 5, "levels per side to sum for near-touch depth")
	flag.Parse()

	cfg, err := infra.LoadConfig(infra.ResolveConfigPath())
	if err != nil {
		// The watcher is useful without a config file.
		cfg = infra.DefaultConfig()
	}
	slog.SetDefault(infra.NewLogger(cfg))

	var symbols []string
	for _, s := range strings.Split(*symbolsFlag, ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			symbols = append(symbols, s)
		}
	}
	if len(symbols) == 0 {
		fmt.Fprintln(os.Stderr, "no symbols given")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	limiter := infra.NewRateLimiter(cfg.Binance.WeightPerMinute, time.Minute)
	client := exchange.NewClient(cfg, limiter, nil)
	defer client.Close()

	hub := marketdata.NewHub(cfg, client, nil)
	hub.Start(ctx)
	defer hub.Stop()
	hub.Subscribe(symbols...)

	fmt.Printf("=== TITAN Book Watch ===\n")
	fmt.Printf("watching %s every %v\n\n", strings.Join(symbols, ", "), *interval)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nbye 👋")
			return
		case <-ticker.C:
			printBooks(hub, symbols, *depth)
		}
	}
}

func printBooks(hub *marketdata.Hub, symbols []string, depth int) {
	for _, sym := range symbols {
		snap, ok := hub.GetOrderBook(sym, depth)
		if !ok {
			fmt.Printf("⏳ %-12s syncing...\n", sym)
			continue
		}

		bid, okB := snap.BestBid()
		ask, okA := snap.BestAsk()
		if !okB || !okA {
			fmt.Printf("⚠️  %-12s one-sided book\n", sym)
			continue
		}

		var bidDepth, askDepth float64
		for _, l := range snap.Bids {
			bidDepth += l.Qty
		}
		for _, l := range snap.Asks {
			askDepth += l.Qty
		}

		mid := (bid.Price + ask.Price) / 2
		spread := ask.Price - bid.Price
		fmt.Printf("📊 %-12s bid %.8g x%.6g | ask %.8g x%.6g | mid %.8g | spread %.3g | depth %0.4g/%0.4g\n",
			sym, bid.Price, bid.Qty, ask.Price, ask.Qty, mid, spread, bidDepth, askDepth)
	}
	fmt.Println()
}
