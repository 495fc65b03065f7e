// Package backtest runs seeded mass tournaments offline. Each cycle
// spawns a generation of parameter-mutated bots that trade MASS
// lifecycles against synthetic random-walk books; the cycle's best
// performer seeds the next generation. Outcomes depend only on the
// configured seed, never on wall-clock timing.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/audit"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/domain"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/execution"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/storage"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/strategy"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/pkg/book"
)

// qtyStep is the synthetic venue's quantity increment.
const qtyStep = 1e-6

// Config sizes one tournament.
type Config struct {
	Bots   int   // bots per generation
	Cycles int   // generations to run
	Trades int   // round trips attempted per bot per cycle
	Seed   int64 // master seed; same seed, same tournament

	Symbols   []string // rotation of synthetic markets
	StartMid  float64  // starting mid price of every synthetic book
	MaxPasses int      // monitor passes before an unfilled order is abandoned

	Fill execution.MassParams // fill model; zero value uses fast offline defaults
}

func (c Config) withDefaults() Config {
	if c.Bots <= 0 {
		c.Bots = 6
	}
	if c.Cycles <= 0 {
		c.Cycles = 1
	}
	if c.Trades <= 0 {
		c.Trades = 4
	}
	if len(c.Symbols) == 0 {
		c.Symbols = strategy.Defaults().Universe
	}
	if c.StartMid <= 0 {
		c.StartMid = 100
	}
	if c.MaxPasses <= 0 {
		c.MaxPasses = 80
	}
	if c.Fill == (execution.MassParams{}) {
		c.Fill = execution.DefaultMassParams()
		// Offline runs only wait on the pass budget.
		c.Fill.BaseLatency = time.Millisecond
	}
	return c
}

// BotResult pairs a bot's parameter set with its cycle statistics.
type BotResult struct {
	BotID  string
	Params strategy.Params
	Stats  domain.BotStats
}

// CycleResult is one generation's outcome, best PnL first.
type CycleResult struct {
	Cycle   int
	Results []BotResult
	Winner  BotResult
}

// Runner executes tournaments. Store and audit log may be nil for
// throwaway runs.
type Runner struct {
	cfg   Config
	store *storage.Store
	audit *audit.Logger
}

// NewRunner builds a tournament runner.
func NewRunner(cfg Config, store *storage.Store, auditLog *audit.Logger) *Runner {
	return &Runner{cfg: cfg.withDefaults(), store: store, audit: auditLog}
}

// botSpec is one bot's draw from the master seed.
type botSpec struct {
	id     string
	params strategy.Params
	seed   int64
}

// Run executes the configured cycles and returns them in order. A
// canceled context returns the cycles completed so far plus ctx's
// error.
func (r *Runner) Run(ctx context.Context) ([]CycleResult, error) {
	master := rand.New(rand.NewSource(r.cfg.Seed))
	base := strategy.Defaults()

	slog.Info("🧪 Mass test tournament starting",
		"bots", r.cfg.Bots, "cycles", r.cfg.Cycles, "trades", r.cfg.Trades, "seed", r.cfg.Seed)

	var out []CycleResult
	for cycle := 1; cycle <= r.cfg.Cycles; cycle++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		gen := r.spawnGeneration(cycle, base, master)
		r.logCycleEvent(cycle, "cycle_start", map[string]any{"bots": len(gen)})

		results := make([]BotResult, len(gen))
		var wg sync.WaitGroup
		for i, spec := range gen {
			wg.Add(1)
			go func(i int, spec botSpec) {
				defer wg.Done()
				results[i] = r.runBot(ctx, cycle, spec)
			}(i, spec)
		}
		wg.Wait()

		sort.SliceStable(results, func(i, j int) bool {
			if results[i].Stats.PnL != results[j].Stats.PnL {
				return results[i].Stats.PnL > results[j].Stats.PnL
			}
			return results[i].BotID < results[j].BotID
		})

		winner := results[0]
		base = winner.Params.Clone()
		r.persistResults(ctx, results)
		r.logCycleEvent(cycle, "cycle_winner", map[string]any{
			"winner": winner.BotID,
			"pnl":    winner.Stats.PnL,
			"wins":   winner.Stats.Wins,
			"losses": winner.Stats.Losses,
		})
		slog.Info("✅ Cycle complete",
			"cycle", cycle, "winner", winner.BotID,
			"pnl", winner.Stats.PnL, "pnl_pct", winner.Stats.PnLPct)

		out = append(out, CycleResult{Cycle: cycle, Results: results, Winner: winner})
	}
	return out, nil
}

// spawnGeneration drafts the cycle's bots. The first slot carries the
// incumbent parameter set unchanged so a generation can never regress
// below its seed; the rest mutate it.
func (r *Runner) spawnGeneration(cycle int, base strategy.Params, master *rand.Rand) []botSpec {
	gen := make([]botSpec, r.cfg.Bots)
	for i := range gen {
		params := base.Clone()
		if i > 0 {
			params, _ = strategy.ApplyMutations(base, strategy.RandomMutations(master))
		}
		gen[i] = botSpec{
			id:     fmt.Sprintf("bot-%d-%d", cycle, i),
			params: params,
			seed:   master.Int63(),
		}
	}
	return gen
}

// runBot plays one bot's round trips: buy at the synthetic best bid,
// then exit through the chained sell k ticks above the entry.
func (r *Runner) runBot(ctx context.Context, cycle int, spec botSpec) BotResult {
	rng := rand.New(rand.NewSource(spec.seed))
	filler := execution.NewMassFiller(r.cfg.Fill, rng)
	rounder := gridRounder{tick: spec.params.TickSize, step: qtyStep}

	stats := domain.BotStats{BotID: spec.id, Cycle: cycle}
	start := time.Now()
	completed := 0

	for n := 0; n < r.cfg.Trades; n++ {
		if ctx.Err() != nil {
			break
		}
		symbol := r.cfg.Symbols[n%len(r.cfg.Symbols)]
		gen := newBookGen(symbol, r.cfg.StartMid, spec.params.TickSize, rng)

		bid, _ := gen.current().BestBid()
		qty := spec.params.TradeSizeUSD / bid.Price

		stats.Orders++
		buy, ok := r.place(ctx, filler, rounder, gen, symbol, domain.SideBuy, bid.Price, qty)
		if !ok {
			continue
		}
		stats.Fills++

		// The filler stages the exit at the opposing best; reprice it
		// to the bot's profit target.
		draft := filler.TakeChained()
		if draft == nil {
			continue
		}
		sellPrice := buy.Price + float64(spec.params.SellTicks)*spec.params.TickSize

		stats.Orders++
		sell, ok := r.place(ctx, filler, rounder, gen, symbol, domain.SideSell, sellPrice, draft.Amount)
		if !ok {
			continue
		}
		stats.Fills++

		stats.RecordTrade((sell.Price - buy.Price) * sell.Filled)
		completed++
	}

	stats.Runtime = time.Since(start)
	if notional := spec.params.TradeSizeUSD * float64(completed); notional > 0 {
		stats.PnLPct = stats.PnL / notional * 100
	}
	return BotResult{BotID: spec.id, Params: spec.params, Stats: stats}
}

// place opens one MASS order and drives it to a terminal state against
// the walking book. The pass budget, not the clock, bounds the wait.
func (r *Runner) place(ctx context.Context, filler execution.Filler, rounder execution.Rounder, gen *bookGen, symbol string, side domain.Side, price, qty float64) (domain.Order, bool) {
	var final domain.Order
	var sink execution.OrderSink
	if r.store != nil {
		sink = r.store
	}

	lc := execution.NewLifecycle(nil, rounder, filler, execution.Options{
		Audit: r.audit,
		Store: sink,
		Callbacks: execution.Callbacks{
			OnFilled:   func(o *domain.Order) { final = *o },
			OnCanceled: func(o *domain.Order) { final = *o },
		},
	})

	if _, err := lc.OpenLimit(ctx, symbol, side, price, qty, ""); err != nil {
		slog.Debug("Mass order rejected", "symbol", symbol, "side", side, "err", err)
		return domain.Order{}, false
	}

	mctx, cancel := context.WithCancel(ctx)
	defer cancel()
	passes := 0
	snapFn := func() book.Snapshot {
		passes++
		if passes > r.cfg.MaxPasses {
			cancel()
			return book.Snapshot{}
		}
		return gen.next()
	}

	if err := lc.StartMonitoring(mctx, snapFn); err != nil {
		cctx, ccancel := context.WithTimeout(context.Background(), time.Second)
		_ = lc.Cancel(cctx)
		ccancel()
	}
	return final, final.Status == domain.StatusFilled
}

func (r *Runner) persistResults(ctx context.Context, results []BotResult) {
	if r.store == nil {
		return
	}
	for _, res := range results {
		if err := r.store.SaveBotStats(ctx, res.Stats); err != nil {
			slog.Warn("Bot stats persist failed", "bot", res.BotID, "err", err)
		}
	}
}

func (r *Runner) logCycleEvent(cycle int, stage string, extra map[string]any) {
	ev := audit.NewEvent(audit.EvBotCycle, "", "", 0)
	ev.Extra = map[string]any{"cycle": cycle, "stage": stage}
	for k, v := range extra {
		ev.Extra[k] = v
	}
	r.audit.Log(ev)
}

// gridRounder floors prices to the tick grid and quantities to the lot
// step, the way the live metadata rounder does against venue filters.
type gridRounder struct {
	tick float64
	step float64
}

func (g gridRounder) RoundPriceQty(ctx context.Context, symbol string, price, qty float64) (float64, float64, error) {
	tick := g.tick
	if tick <= 0 {
		tick = 0.01
	}
	step := g.step
	if step <= 0 {
		step = qtyStep
	}
	p := math.Floor(price/tick+1e-9) * tick
	q := math.Floor(qty/step+1e-9) * step
	if p <= 0 || q <= 0 {
		return 0, 0, fmt.Errorf("rounded order degenerate: price %v qty %v", p, q)
	}
	return p, q, nil
}

// bookGen walks a synthetic two-sided book. Every next() advances the
// mid one step: down, flat, or up a tick with equal thirds, with level
// quantities redrawn each step.
type bookGen struct {
	symbol   string
	mid      float64 // best bid price; ask side sits one tick above
	tick     float64
	rng      *rand.Rand
	updateID int64
}

func newBookGen(symbol string, startMid, tick float64, rng *rand.Rand) *bookGen {
	if tick <= 0 {
		tick = 0.01
	}
	return &bookGen{symbol: symbol, mid: startMid, tick: tick, rng: rng}
}

func (g *bookGen) next() book.Snapshot {
	switch draw := g.rng.Float64(); {
	case draw < 1.0/3:
		g.mid -= g.tick
	case draw > 2.0/3:
		g.mid += g.tick
	}
	if floor := 10 * g.tick; g.mid < floor {
		g.mid = floor
	}
	return g.current()
}

func (g *bookGen) current() book.Snapshot {
	g.updateID++
	const levels = 5
	bids := make([]book.Level, levels)
	asks := make([]book.Level, levels)
	for i := 0; i < levels; i++ {
		bids[i] = book.Level{Price: g.mid - float64(i)*g.tick, Qty: 1 + g.rng.Float64()*9}
		asks[i] = book.Level{Price: g.mid + float64(i+1)*g.tick, Qty: 1 + g.rng.Float64()*9}
	}
	return book.Snapshot{
		Symbol:       g.symbol,
		Bids:         bids,
		Asks:         asks,
		LastUpdateID: g.updateID,
		UpdatedAt:    time.Now(),
		TickSize:     g.tick,
	}
}
