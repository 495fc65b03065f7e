// Package engine runs the decision loop: observe tracked books, score
// candidates, collect advisor proposals, validate and execute them as
// managed order lifecycles, and keep the session position ledger.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/audit"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/domain"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/execution"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/infra"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/metrics"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/storage"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/strategy"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/pkg/book"
)

// bookDepth is how many levels the engine pulls per snapshot; fill
// models only ever look near the touch.
const bookDepth = 50

// maxSessionTrades bounds the in-memory round-trip history.
const maxSessionTrades = 200

// BookSource is the market data surface the engine reads.
// Implemented by marketdata.Hub.
type BookSource interface {
	Subscribe(symbols ...string)
	GetOrderBook(symbol string, depth int) (book.Snapshot, bool)
	Subscribed() []string
}

// StatsSource provides rolling 24h statistics per symbol.
// Implemented by exchange.TickerPoller.
type StatsSource interface {
	Get(symbol string) (domain.Ticker24h, bool)
	All() map[string]domain.Ticker24h
}

// TickSizer is the optional metadata surface for venue tick sizes.
// Implemented by exchange.Meta.
type TickSizer interface {
	TickSize(ctx context.Context, symbol string) (float64, error)
}

// chainedSource is the filler seam for staged exit drafts.
type chainedSource interface {
	TakeChained() *domain.Order
}

// Options wires the engine's collaborators. Every engine gets its own
// set; nothing here is global.
type Options struct {
	Config    *infra.Config
	Books     BookSource
	Stats     StatsSource // nil means no 24h stats
	Advisor   Advisor
	Params    *strategy.Holder
	Rounder   execution.Rounder
	Client    execution.OrderClient // nil outside LIVE
	NewFiller func() (execution.Filler, error)
	Audit     *audit.Logger
	Store     execution.OrderSink
	Snapshots *storage.SnapshotManager // nil disables session persistence
	Metrics   *metrics.Metrics
}

// orderSlot tracks one managed order and how much of its fill has been
// folded into the position ledger.
type orderSlot struct {
	symbol    string
	side      domain.Side
	lifecycle *execution.Lifecycle
	filler    execution.Filler
	cancel    context.CancelFunc
	applied   float64 // guarded by Engine.mu
}

// Engine is the decision loop. Create with New, drive with Run.
type Engine struct {
	opts Options
	mode execution.Mode
	obs  *observer

	mu        sync.Mutex
	positions map[string]*domain.Position
	slots     map[string]*orderSlot
	trades    []domain.Trade
	cycle     int64

	runCtx context.Context
	wg     sync.WaitGroup
}

// New validates the wiring and builds an engine.
func New(opts Options) (*Engine, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("engine: config is required")
	}
	if opts.Books == nil {
		return nil, fmt.Errorf("engine: book source is required")
	}
	if opts.Advisor == nil {
		return nil, fmt.Errorf("engine: advisor is required")
	}
	if opts.Rounder == nil {
		return nil, fmt.Errorf("engine: rounder is required")
	}
	if opts.NewFiller == nil {
		return nil, fmt.Errorf("engine: filler factory is required")
	}
	if opts.Params == nil {
		opts.Params = strategy.NewHolder(strategy.Defaults())
	}

	mode, err := execution.ParseMode(opts.Config.Trading.Mode)
	if err != nil {
		return nil, err
	}

	return &Engine{
		opts:      opts,
		mode:      mode,
		obs:       newObserver(opts.Config.Trading.FeePerSide, opts.Params.Load().TickSize),
		positions: make(map[string]*domain.Position),
		slots:     make(map[string]*orderSlot),
	}, nil
}

// Run drives fixed-interval cycles until ctx is canceled, then waits
// for order monitors to wind down and persists the session.
func (e *Engine) Run(ctx context.Context) error {
	e.runCtx = ctx
	e.restoreSession()

	interval := e.opts.Config.LoopInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("🚀 Decision engine started", "mode", e.mode, "interval", interval)

	for {
		select {
		case <-ctx.Done():
			e.wg.Wait()
			e.saveSession()
			slog.Info("Decision engine stopped", "cycles", e.CycleCount())
			return nil
		case <-ticker.C:
			start := time.Now()
			e.runCycle(ctx)
			e.opts.Metrics.ObserveCycle(float64(time.Since(start).Microseconds()) / 1000.0)
		}
	}
}

// runCycle is one observe-propose-validate-execute pass.
func (e *Engine) runCycle(ctx context.Context) {
	e.mu.Lock()
	e.cycle++
	cycle := e.cycle
	e.mu.Unlock()

	params := e.opts.Params.Load()
	symbols := e.universe(params)
	if len(symbols) == 0 {
		slog.Debug("Cycle skipped, empty universe", "cycle", cycle)
		return
	}
	e.opts.Books.Subscribe(symbols...)

	obsSet := e.collect(cycle, symbols)

	ev := audit.NewEvent(audit.EvBotCycle, "", "", 0)
	ev.Extra = map[string]any{
		"cycle":    cycle,
		"universe": len(symbols),
		"observed": len(obsSet.Observations),
		"open":     e.OpenOrderCount(),
	}
	e.opts.Audit.Log(ev)

	if len(obsSet.Observations) == 0 {
		return
	}

	actions, err := e.opts.Advisor.ProposeActions(ctx, obsSet, params)
	if err != nil {
		slog.Warn("Advisor proposal failed", "cycle", cycle, "err", err)
		return
	}

	valid := e.validate(actions, obsSet, params)
	if maxN := e.opts.Config.Trading.MaxActionsPerCycle; len(valid) > maxN {
		slog.Debug("Truncating actions to per-cycle cap", "proposed", len(valid), "cap", maxN)
		valid = valid[:maxN]
	}
	e.execute(ctx, valid, obsSet)
}

// universe resolves the symbol set for this cycle: the configured
// static list, or discovery by quote asset ranked on 24h quote volume.
func (e *Engine) universe(params strategy.Params) []string {
	if len(params.Universe) > 0 {
		out := make([]string, 0, len(params.Universe))
		for _, sym := range params.Universe {
			out = append(out, strings.ToUpper(sym))
		}
		return out
	}
	if e.opts.Stats == nil {
		return nil
	}

	quote := strings.ToUpper(e.opts.Config.Engine.QuoteAsset)
	all := e.opts.Stats.All()
	candidates := make([]domain.Ticker24h, 0, len(all))
	for sym, t := range all {
		if strings.HasSuffix(sym, quote) {
			candidates = append(candidates, t)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].QuoteVolume > candidates[j].QuoteVolume
	})
	if topN := e.opts.Config.Engine.TopN; len(candidates) > topN {
		candidates = candidates[:topN]
	}

	out := make([]string, 0, len(candidates))
	for _, t := range candidates {
		out = append(out, t.Symbol)
	}
	return out
}

// collect builds scored observations for every symbol with a ready
// two-sided book, best score first.
func (e *Engine) collect(cycle int64, symbols []string) ObservationSet {
	set := ObservationSet{Cycle: cycle, At: time.Now()}
	active := make(map[string]bool, len(symbols))

	for _, sym := range symbols {
		active[sym] = true
		snap, ok := e.opts.Books.GetOrderBook(sym, bookDepth)
		if !ok {
			continue
		}
		var stats domain.Ticker24h
		if e.opts.Stats != nil {
			stats, _ = e.opts.Stats.Get(sym)
		}
		if o, ok := e.obs.observe(snap, stats); ok {
			set.Observations = append(set.Observations, o)
		}
	}
	e.obs.forget(active)

	sort.SliceStable(set.Observations, func(i, j int) bool {
		a, b := set.Observations[i], set.Observations[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.EdgeBps > b.EdgeBps
	})
	return set
}

// validate filters proposals, auditing every accept and reject.
func (e *Engine) validate(actions []domain.Action, obs ObservationSet, params strategy.Params) []domain.Action {
	thrBps := e.opts.Config.Trading.OpportunityThreshold * 100
	budget := params.TradeSizeUSD

	out := make([]domain.Action, 0, len(actions))
	for _, a := range actions {
		if reason := rejectReason(a, obs, budget, thrBps); reason != "" {
			ev := audit.NewEvent(audit.EvActionRejected, a.Symbol, a.OrderID, a.Qty)
			ev.Price = a.Price
			ev.Extra = map[string]any{"type": string(a.Type), "reason": reason}
			e.opts.Audit.Log(ev)
			slog.Debug("Action rejected", "type", a.Type, "symbol", a.Symbol, "reason", reason)
			continue
		}

		ev := audit.NewEvent(audit.EvActionProposed, a.Symbol, a.OrderID, a.Qty)
		ev.Price = a.Price
		ev.Extra = map[string]any{"type": string(a.Type), "reason": a.Reason}
		e.opts.Audit.Log(ev)
		out = append(out, a)
	}
	return out
}

// rejectReason applies the hard validation rules. Empty string means
// the action is executable.
func rejectReason(a domain.Action, obs ObservationSet, budget, thrBps float64) string {
	o, tracked := obs.Lookup(a.Symbol)
	if !tracked {
		return "symbol_untracked"
	}

	switch a.Type {
	case domain.ActionPlaceLimitBuy, domain.ActionPlaceLimitSell:
		if a.Qty <= 0 {
			return "qty_not_positive"
		}
		if a.Price <= 0 {
			return "price_not_positive"
		}
		if a.Qty*a.Price > budget*(1+1e-9) {
			return "size_budget_exceeded"
		}
		if o.EdgeBps < thrBps {
			return "edge_below_threshold"
		}
	case domain.ActionModifyOrder:
		if a.OrderID == "" {
			return "missing_order_id"
		}
		if a.Price <= 0 {
			return "price_not_positive"
		}
	case domain.ActionCancelOrder:
		if a.OrderID == "" {
			return "missing_order_id"
		}
	case domain.ActionClosePositionMarket:
		// Tracked symbol is enough; a flat position no-ops at execution.
	default:
		return "unknown_action_type"
	}
	return ""
}

// execute dispatches validated actions.
func (e *Engine) execute(ctx context.Context, actions []domain.Action, obs ObservationSet) {
	for _, a := range actions {
		switch a.Type {
		case domain.ActionPlaceLimitBuy:
			e.openOrder(ctx, a.Symbol, domain.SideBuy, a.Price, a.Qty)
		case domain.ActionPlaceLimitSell:
			e.openOrder(ctx, a.Symbol, domain.SideSell, a.Price, a.Qty)
		case domain.ActionCancelOrder:
			e.cancelOrder(ctx, a.OrderID)
		case domain.ActionModifyOrder:
			e.modifyOrder(ctx, a.OrderID, a.Price)
		case domain.ActionClosePositionMarket:
			e.closePosition(a.Symbol, obs)
		}
	}
}

// openOrder creates a lifecycle slot and starts its monitor goroutine.
func (e *Engine) openOrder(ctx context.Context, symbol string, side domain.Side, price, qty float64) {
	filler, err := e.opts.NewFiller()
	if err != nil {
		slog.Error("Filler construction failed", "symbol", symbol, "err", err)
		return
	}

	slot := &orderSlot{symbol: symbol, side: side, filler: filler}
	slot.lifecycle = execution.NewLifecycle(e.opts.Client, e.opts.Rounder, filler, execution.Options{
		Audit:   e.opts.Audit,
		Store:   e.opts.Store,
		Pending: e.OpenOrderCount,
		Callbacks: execution.Callbacks{
			OnOpened: func(o *domain.Order) {
				e.opts.Metrics.RecordOrderOpened(o.Mode)
			},
			OnPartial: func(o *domain.Order, fill domain.Fill) {
				e.opts.Metrics.RecordFill(fill.Reason)
				e.applyFill(slot, o, fill.Qty)
			},
			OnFilled: func(o *domain.Order) {
				e.opts.Metrics.RecordFill(fillReason(o.Mode))
				e.finishFill(slot, o)
			},
			OnCanceled: func(o *domain.Order) {
				e.opts.Metrics.RecordCancel()
			},
		},
	})

	order, err := slot.lifecycle.OpenLimit(ctx, symbol, side, price, qty, "")
	if err != nil {
		slog.Warn("Order open failed", "symbol", symbol, "side", side, "err", err)
		return
	}

	tick := e.tickSize(ctx, symbol)

	parent := e.runCtx
	if parent == nil {
		parent = ctx
	}
	mctx, cancel := context.WithCancel(parent)
	slot.cancel = cancel

	e.mu.Lock()
	e.slots[order.ID] = slot
	e.mu.Unlock()

	e.wg.Add(1)
	go e.monitor(mctx, order.ID, slot, tick)
}

// monitor drives one order to its terminal state. On engine shutdown
// the resting order is canceled locally so the slot closes clean.
func (e *Engine) monitor(ctx context.Context, orderID string, slot *orderSlot, tick float64) {
	defer e.wg.Done()
	defer func() {
		e.mu.Lock()
		delete(e.slots, orderID)
		e.mu.Unlock()
		slot.cancel()
	}()

	snapFn := func() book.Snapshot {
		snap, ok := e.opts.Books.GetOrderBook(slot.symbol, bookDepth)
		if !ok {
			return book.Snapshot{}
		}
		snap.TickSize = tick
		return snap
	}

	if err := slot.lifecycle.StartMonitoring(ctx, snapFn); err != nil {
		cctx, ccancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = slot.lifecycle.Cancel(cctx)
		ccancel()
	}
}

// applyFill folds one fill increment into the position ledger.
func (e *Engine) applyFill(slot *orderSlot, o *domain.Order, qty float64) {
	if qty <= 0 {
		return
	}
	fee := e.opts.Config.Trading.FeePerSide * qty * o.Price
	signed := qty
	if o.Side == domain.SideSell {
		signed = -qty
	}

	e.mu.Lock()
	pos := e.positionLocked(o.Symbol)
	before := pos.RealizedPnL
	avgBefore := pos.AvgEntry
	reducing := pos.Qty != 0 && (pos.Qty > 0) != (signed > 0)
	closed := math.Min(qty, math.Abs(pos.Qty))
	pos.ApplyFill(o.Side, qty, o.Price, fee)
	slot.applied += qty

	if reducing {
		e.recordTradeLocked(domain.Trade{
			Symbol:     o.Symbol,
			Qty:        closed,
			EntryPrice: avgBefore,
			ExitPrice:  o.Price,
			PnL:        pos.RealizedPnL - before,
		})
	}
	e.mu.Unlock()
}

// finishFill folds whatever the partial callbacks have not yet applied,
// then opens any staged chained exit.
func (e *Engine) finishFill(slot *orderSlot, o *domain.Order) {
	e.mu.Lock()
	applied := slot.applied
	e.mu.Unlock()

	if delta := o.Filled - applied; delta > 1e-12 {
		e.applyFill(slot, o, delta)
	}

	if src, ok := slot.filler.(chainedSource); ok {
		if draft := src.TakeChained(); draft != nil {
			slog.Info("Opening chained exit",
				"symbol", draft.Symbol, "price", draft.Price, "qty", draft.Amount)
			ctx := e.runCtx
			if ctx == nil {
				ctx = context.Background()
			}
			e.openOrder(ctx, draft.Symbol, draft.Side, draft.Price, draft.Amount)
		}
	}
}

func (e *Engine) cancelOrder(ctx context.Context, orderID string) {
	e.mu.Lock()
	slot := e.slots[orderID]
	e.mu.Unlock()
	if slot == nil {
		slog.Debug("Cancel for unknown order", "id", orderID)
		return
	}
	if err := slot.lifecycle.Cancel(ctx); err != nil {
		slog.Warn("Cancel failed", "id", orderID, "err", err)
	}
}

// modifyOrder is cancel plus reopen of the remaining quantity at the
// new price.
func (e *Engine) modifyOrder(ctx context.Context, orderID string, newPrice float64) {
	e.mu.Lock()
	slot := e.slots[orderID]
	e.mu.Unlock()
	if slot == nil {
		slog.Debug("Modify for unknown order", "id", orderID)
		return
	}

	cur := slot.lifecycle.Current()
	if cur == nil {
		return
	}
	remaining := cur.Remaining()

	if err := slot.lifecycle.Cancel(ctx); err != nil {
		slog.Warn("Modify cancel failed", "id", orderID, "err", err)
		return
	}
	if remaining <= 0 {
		return
	}
	e.openOrder(ctx, cur.Symbol, cur.Side, newPrice, remaining)
}

// closePosition synthetically flattens a position at the current best.
// LIVE has no market-order path, so it only logs there.
func (e *Engine) closePosition(symbol string, obs ObservationSet) {
	if e.mode == execution.ModeLive {
		slog.Warn("Market close unsupported in LIVE, skipping", "symbol", symbol)
		return
	}
	o, ok := obs.Lookup(symbol)
	if !ok {
		return
	}

	e.mu.Lock()
	pos := e.positions[symbol]
	if pos == nil || pos.Qty == 0 {
		e.mu.Unlock()
		return
	}

	qty := math.Abs(pos.Qty)
	side := domain.SideSell
	mark := o.BestBid // longs exit into the bid
	if pos.Qty < 0 {
		side = domain.SideBuy
		mark = o.BestAsk
	}
	if mark <= 0 {
		e.mu.Unlock()
		return
	}

	fee := e.opts.Config.Trading.FeePerSide * qty * mark
	before := pos.RealizedPnL
	avgBefore := pos.AvgEntry
	pos.ApplyFill(side, qty, mark, fee)
	delta := pos.RealizedPnL - before
	e.recordTradeLocked(domain.Trade{
		Symbol:     symbol,
		Qty:        qty,
		EntryPrice: avgBefore,
		ExitPrice:  mark,
		PnL:        delta,
	})
	e.mu.Unlock()

	ev := audit.NewEvent(audit.EvPositionClosed, symbol, "", qty)
	ev.Price = mark
	ev.Extra = map[string]any{"pnl": delta, "side": string(side)}
	e.opts.Audit.Log(ev)

	slog.Info("Position closed", "symbol", symbol, "side", side, "qty", qty, "price", mark, "pnl", delta)
}

// positionLocked returns the ledger entry for symbol, creating it on
// first touch. Caller holds e.mu.
func (e *Engine) positionLocked(symbol string) *domain.Position {
	pos := e.positions[symbol]
	if pos == nil {
		pos = &domain.Position{Symbol: symbol}
		e.positions[symbol] = pos
	}
	return pos
}

// recordTradeLocked appends a closed round trip. Caller holds e.mu.
func (e *Engine) recordTradeLocked(t domain.Trade) {
	e.trades = append(e.trades, t)
	if len(e.trades) > maxSessionTrades {
		e.trades = e.trades[len(e.trades)-maxSessionTrades:]
	}
}

// tickSize resolves the venue tick for symbol, falling back to the
// strategy default when metadata is unavailable.
func (e *Engine) tickSize(ctx context.Context, symbol string) float64 {
	if ts, ok := e.opts.Rounder.(TickSizer); ok {
		if tick, err := ts.TickSize(ctx, symbol); err == nil && tick > 0 {
			return tick
		}
	}
	return e.opts.Params.Load().TickSize
}

// OpenOrderCount reports how many order slots are live. Also serves as
// the fillers' pending-load input.
func (e *Engine) OpenOrderCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.slots)
}

// OpenOrders copies the currently managed open orders.
func (e *Engine) OpenOrders() []domain.Order {
	e.mu.Lock()
	slots := make([]*orderSlot, 0, len(e.slots))
	for _, s := range e.slots {
		slots = append(slots, s)
	}
	e.mu.Unlock()

	out := make([]domain.Order, 0, len(slots))
	for _, s := range slots {
		if cur := s.lifecycle.Current(); cur != nil {
			out = append(out, *cur)
		}
	}
	return out
}

// Positions copies the position ledger.
func (e *Engine) Positions() map[string]domain.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]domain.Position, len(e.positions))
	for sym, pos := range e.positions {
		out[sym] = *pos
	}
	return out
}

// RealizedPnL sums realized PnL across all positions.
func (e *Engine) RealizedPnL() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.realizedLocked()
}

func (e *Engine) realizedLocked() float64 {
	var sum float64
	for _, pos := range e.positions {
		sum += pos.RealizedPnL
	}
	return sum
}

// UnrealizedPnL marks every open position against the current mid.
func (e *Engine) UnrealizedPnL() float64 {
	positions := e.Positions()

	var sum float64
	for sym, pos := range positions {
		if pos.Qty == 0 {
			continue
		}
		snap, ok := e.opts.Books.GetOrderBook(sym, 1)
		if !ok {
			continue
		}
		if mid, ok := snap.Mid(); ok {
			sum += pos.UnrealizedPnL(mid)
		}
	}
	return sum
}

// Trades copies the session round-trip history.
func (e *Engine) Trades() []domain.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Trade, len(e.trades))
	copy(out, e.trades)
	return out
}

// CycleCount returns how many cycles have run.
func (e *Engine) CycleCount() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cycle
}

// restoreSession reloads positions from the latest session snapshot.
func (e *Engine) restoreSession() {
	if e.opts.Snapshots == nil {
		return
	}
	snap, err := e.opts.Snapshots.LoadLatest()
	if err != nil {
		slog.Warn("Session restore failed", "err", err)
		return
	}
	if snap == nil {
		return
	}

	e.mu.Lock()
	e.cycle = snap.Cycle
	for sym, pos := range snap.Positions {
		p := pos
		e.positions[sym] = &p
	}
	e.mu.Unlock()
}

// saveSession persists positions for the next run and prunes old
// snapshot files.
func (e *Engine) saveSession() {
	if e.opts.Snapshots == nil {
		return
	}

	e.mu.Lock()
	positions := make(map[string]domain.Position, len(e.positions))
	for sym, pos := range e.positions {
		positions[sym] = *pos
	}
	cycle := e.cycle
	realized := e.realizedLocked()
	e.mu.Unlock()

	if err := e.opts.Snapshots.Save(storage.NewSessionSnapshot(cycle, realized, positions)); err != nil {
		slog.Warn("Session save failed", "err", err)
		return
	}
	_ = e.opts.Snapshots.Cleanup(5)
}

// fillReason maps an order mode onto the fill-event label.
func fillReason(mode string) string {
	switch execution.Mode(mode) {
	case execution.ModeMass:
		return "sim_mass"
	case execution.ModeLive:
		return "live"
	default:
		return "sim"
	}
}
