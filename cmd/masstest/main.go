// Command masstest runs an offline mass-test tournament: generations of
// parameter-mutated bots trading MASS lifecycles against synthetic
// books. Results print to the console and persist to the mode's
// database for later inspection.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ElTitoMarcos/TITAN-BOT-sub000/backtest"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/audit"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/execution"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/infra"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/storage"
)

func main() {
	bots := flag.Int("bots", 8, "bots per generation")
	cycles := flag.Int("cycles", 3, "generations to run")
	trades := flag.Int("trades", 5, "round trips attempted per bot per cycle")
	seed := flag.Int64("seed", time.Now().UnixNano(), "master seed; fixed seed reproduces the tournament")
	symbolsFlag := flag.String("symbols", "", "comma-separated synthetic markets (default: strategy universe)")
	noPersist := flag.Bool("no-persist", false, "skip writing stats and audit trail")
	flag.Parse()

	cfg, err := infra.LoadConfig(infra.ResolveConfigPath())
	if err != nil {
		cfg = infra.DefaultConfig()
	}
	slog.SetDefault(infra.NewLogger(cfg))

	var symbols []string
	for _, s := range strings.Split(*symbolsFlag, ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			symbols = append(symbols, s)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store    *storage.Store
		auditLog *audit.Logger
	)
	if !*noPersist {
		dataDir := filepath.Join(infra.GetWorkspaceDir(), "data", "mass")
		if err := infra.EnsureDir(dataDir); err != nil {
			slog.Error("❌ Workspace setup failed", slog.Any("error", err))
			os.Exit(1)
		}
		store, err = storage.NewStore(filepath.Join(dataDir, "masstest.db"), nil)
		if err != nil {
			slog.Error("❌ Store open failed", slog.Any("error", err))
			os.Exit(1)
		}
		defer store.Close()

		auditLog, err = audit.NewLogger(filepath.Join(dataDir, "masstest.jsonl.gz"))
		if err != nil {
			slog.Error("❌ Audit trail open failed", slog.Any("error", err))
			os.Exit(1)
		}
		defer auditLog.Close()
	}

	// The fill model shape comes from config; offline runs poll fast
	// regardless of the configured live latency.
	fill := execution.MassParamsFromConfig(cfg)
	fill.BaseLatency = time.Millisecond

	runner := backtest.NewRunner(backtest.Config{
		Bots:    *bots,
		Cycles:  *cycles,
		Trades:  *trades,
		Seed:    *seed,
		Symbols: symbols,
		Fill:    fill,
	}, store, auditLog)

	results, err := runner.Run(ctx)
	if err != nil {
		slog.Warn("Tournament interrupted", slog.Any("error", err))
	}

	fmt.Printf("\n=== TITAN Mass Test (seed %d) ===\n", *seed)
	for _, cy := range results {
		fmt.Printf("\ncycle %d winner: %s\n", cy.Cycle, cy.Winner.BotID)
		for i, res := range cy.Results {
			marker := "  "
			if i == 0 {
				marker = "🏆"
			}
			fmt.Printf("%s %-10s pnl %+9.4f (%+.3f%%)  trades %d/%d  w/l %d/%d  size $%.0f  k=%d\n",
				marker, res.BotID,
				res.Stats.PnL, res.Stats.PnLPct,
				res.Stats.Fills, res.Stats.Orders,
				res.Stats.Wins, res.Stats.Losses,
				res.Params.TradeSizeUSD, res.Params.SellTicks)
		}
	}
	if len(results) > 0 {
		final := results[len(results)-1].Winner
		fmt.Printf("\nchampion: %s  params: size $%.0f, %d sell ticks, universe %v\n",
			final.BotID, final.Params.TradeSizeUSD, final.Params.SellTicks, final.Params.Universe)
	}
}
