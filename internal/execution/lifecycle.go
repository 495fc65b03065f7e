package execution

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/audit"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/domain"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/pkg/book"
)

// Rounder validates and floors order parameters to venue filters.
// Implemented by exchange.Meta.
type Rounder interface {
	RoundPriceQty(ctx context.Context, symbol string, price, qty float64) (float64, float64, error)
}

// OrderSink persists order state without blocking the caller.
// Implemented by storage.Store.
type OrderSink interface {
	SaveOrderAsync(order domain.Order)
}

// SnapshotFunc supplies the current market view to the monitor loop.
// A zero Snapshot means "book unavailable right now".
type SnapshotFunc func() book.Snapshot

// Callbacks let upper layers react to order transitions. All callbacks
// run outside the lifecycle lock and receive a private copy.
type Callbacks struct {
	OnOpened   func(order *domain.Order)
	OnPartial  func(order *domain.Order, fill domain.Fill)
	OnFilled   func(order *domain.Order)
	OnCanceled func(order *domain.Order)
}

// Options carries the optional lifecycle collaborators.
type Options struct {
	Audit     *audit.Logger
	Store     OrderSink
	Pending   func() int
	Callbacks Callbacks
}

// Lifecycle manages one order slot through open, monitor and terminal
// state. The slot holds at most one open order; terminal transitions
// clear it. Instances are cheap, use one per concurrent order.
type Lifecycle struct {
	client  OrderClient
	rounder Rounder
	filler  Filler
	opts    Options

	mu      sync.Mutex
	current *domain.Order
}

// NewLifecycle wires an order slot. client may be nil outside LIVE.
func NewLifecycle(client OrderClient, rounder Rounder, filler Filler, opts Options) *Lifecycle {
	if opts.Pending == nil {
		opts.Pending = func() int { return 0 }
	}
	return &Lifecycle{
		client:  client,
		rounder: rounder,
		filler:  filler,
		opts:    opts,
	}
}

// Current returns the order occupying the slot, or nil.
func (l *Lifecycle) Current() *domain.Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return nil
	}
	cp := *l.current
	return &cp
}

// OpenLimit opens a limit order. Idempotent: while the slot holds an
// open order it is returned unchanged. Price and qty are floored to
// venue filters before submission. mode overrides the submission path
// for this order; empty uses the filler's mode. A LIVE venue timeout
// with unknown outcome surfaces as exchange.ErrAmbiguousTimeout.
func (l *Lifecycle) OpenLimit(ctx context.Context, symbol string, side domain.Side, price, qty float64, mode Mode) (*domain.Order, error) {
	l.mu.Lock()
	if cur := l.current; cur != nil && cur.IsOpen() {
		l.mu.Unlock()
		cp := *cur
		return &cp, nil
	}
	l.mu.Unlock()

	if mode == "" {
		mode = l.filler.Mode()
	}

	rPrice, rQty, err := l.rounder.RoundPriceQty(ctx, symbol, price, qty)
	if err != nil {
		return nil, fmt.Errorf("open limit %s: %w", symbol, err)
	}

	now := time.Now()
	var order *domain.Order

	if mode == ModeLive {
		if l.client == nil {
			return nil, fmt.Errorf("open limit %s: live submission requires an exchange client", symbol)
		}
		rec, err := l.client.CreateOrder(ctx, symbol, side, rQty, rPrice)
		if err != nil {
			return nil, fmt.Errorf("open limit %s: %w", symbol, err)
		}
		order = &domain.Order{
			ID:        strconv.FormatInt(rec.OrderID, 10),
			Symbol:    symbol,
			Side:      side,
			Type:      "LIMIT",
			Price:     rPrice,
			Amount:    rQty,
			Status:    domain.StatusNew,
			Mode:      string(ModeLive),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if v := rec.PriceF(); v > 0 {
			order.Price = v
		}
		if v := rec.OrigQtyF(); v > 0 {
			order.Amount = v
		}
		if s := domain.Status(rec.Status); s != "" {
			order.Status = s
		}
	} else {
		order = &domain.Order{
			ID:        simOrderID(),
			Symbol:    symbol,
			Side:      side,
			Type:      "LIMIT",
			Price:     rPrice,
			Amount:    rQty,
			Status:    domain.StatusNew,
			Mode:      string(mode),
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	l.filler.PrepareOpen(order)

	l.mu.Lock()
	l.current = order
	cp := *order
	l.mu.Unlock()

	ev := audit.NewEvent(audit.EvOrderOpened, cp.Symbol, cp.ID, cp.Amount)
	ev.Price = cp.Price
	l.opts.Audit.Log(ev)
	l.persist(cp)
	if l.opts.Callbacks.OnOpened != nil {
		l.opts.Callbacks.OnOpened(&cp)
	}

	slog.Info("Order opened",
		"id", cp.ID, "symbol", cp.Symbol, "side", cp.Side,
		"price", cp.Price, "qty", cp.Amount, "mode", cp.Mode,
	)
	return &cp, nil
}

// StartMonitoring drives the slot's order to a terminal state. It
// blocks until the order completes (nil), the slot empties, or ctx is
// canceled (ctx.Err()). Tick errors mean no progress this pass, never
// a state change.
func (l *Lifecycle) StartMonitoring(ctx context.Context, snapshotFn SnapshotFunc) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		snap := snapshotFn()

		l.mu.Lock()
		order := l.current
		if order == nil {
			l.mu.Unlock()
			return nil
		}

		fill, err := l.filler.Tick(ctx, order, snap)
		if err != nil {
			l.mu.Unlock()
			slog.Debug("Order tick made no progress", "id", order.ID, "err", err)
		} else {
			status := order.Status
			terminal := status.Terminal()
			if terminal {
				l.current = nil
			}
			cp := *order
			l.mu.Unlock()

			if fill != nil && status == domain.StatusPartiallyFilled {
				ev := audit.NewEvent(audit.EvOrderPartial, cp.Symbol, cp.ID, fill.Qty)
				ev.Price = cp.Price
				l.opts.Audit.Log(ev)
				l.persist(cp)
				if l.opts.Callbacks.OnPartial != nil {
					l.opts.Callbacks.OnPartial(&cp, *fill)
				}
			}

			switch status {
			case domain.StatusFilled:
				ev := audit.NewEvent(audit.EvOrderFilled, cp.Symbol, cp.ID, cp.Filled)
				ev.Price = cp.Price
				l.opts.Audit.Log(ev)
				l.persist(cp)
				if l.opts.Callbacks.OnFilled != nil {
					l.opts.Callbacks.OnFilled(&cp)
				}
				return nil
			case domain.StatusCanceled, domain.StatusRejected, domain.StatusExpired:
				ev := audit.NewEvent(audit.EvOrderCanceled, cp.Symbol, cp.ID, cp.Filled)
				l.opts.Audit.Log(ev)
				l.persist(cp)
				if l.opts.Callbacks.OnCanceled != nil {
					l.opts.Callbacks.OnCanceled(&cp)
				}
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.filler.Latency(l.opts.Pending())):
		}
	}
}

// Cancel closes the slot's order. LIVE attempts a venue cancel first;
// its failure is logged, never fatal, and the local order is marked
// CANCELED regardless. Terminal or empty slots are a no-op.
func (l *Lifecycle) Cancel(ctx context.Context) error {
	l.mu.Lock()
	order := l.current
	if order == nil || order.Status.Terminal() {
		l.mu.Unlock()
		return nil
	}
	symbol, id := order.Symbol, order.ID
	venueCancel := order.Mode == string(ModeLive) && l.client != nil
	l.mu.Unlock()

	if venueCancel {
		if err := l.client.CancelOrder(ctx, symbol, id); err != nil {
			slog.Warn("Venue cancel failed, marking canceled locally", "id", id, "err", err)
		}
	}

	l.mu.Lock()
	order = l.current
	if order == nil || !order.MarkCanceled() {
		// Monitor finished the order while the venue call ran.
		l.mu.Unlock()
		return nil
	}
	l.current = nil
	cp := *order
	l.mu.Unlock()

	ev := audit.NewEvent(audit.EvOrderCanceled, cp.Symbol, cp.ID, cp.Filled)
	l.opts.Audit.Log(ev)
	l.persist(cp)
	if l.opts.Callbacks.OnCanceled != nil {
		l.opts.Callbacks.OnCanceled(&cp)
	}
	return nil
}

func (l *Lifecycle) persist(order domain.Order) {
	if l.opts.Store != nil {
		l.opts.Store.SaveOrderAsync(order)
	}
}

// simOrderID builds a local order id for non-LIVE modes.
func simOrderID() string {
	return "SIM-" + uuid.NewString()[:8]
}
