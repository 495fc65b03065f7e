package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// filtersTTL is how long cached symbol filters stay fresh. Tick and
// step sizes change rarely, so a long TTL saves request weight.
const filtersTTL = 600 * time.Second

// FiltersFetcher retrieves trading constraints for a symbol.
type FiltersFetcher interface {
	FetchExchangeInfo(ctx context.Context, symbol string) (Filters, error)
}

type metaEntry struct {
	filters   Filters
	fetchedAt time.Time
}

// Meta caches per-symbol trading filters and applies them to orders.
// A failed refresh falls back to the stale copy when one exists;
// without any copy the error is ErrFiltersUnavailable and the order
// must not be submitted with guessed values.
type Meta struct {
	fetcher FiltersFetcher
	ttl     time.Duration
	now     func() time.Time

	mu    sync.RWMutex
	cache map[string]metaEntry
}

// NewMeta creates a filters cache backed by fetcher.
func NewMeta(fetcher FiltersFetcher) *Meta {
	return &Meta{
		fetcher: fetcher,
		ttl:     filtersTTL,
		now:     time.Now,
		cache:   make(map[string]metaEntry),
	}
}

// Filters returns the trading constraints for symbol, refreshing the
// cache when the entry is missing or expired.
func (m *Meta) Filters(ctx context.Context, symbol string) (Filters, error) {
	m.mu.RLock()
	entry, ok := m.cache[symbol]
	m.mu.RUnlock()

	if ok && m.now().Sub(entry.fetchedAt) < m.ttl {
		return entry.filters, nil
	}

	fresh, err := m.fetcher.FetchExchangeInfo(ctx, symbol)
	if err != nil {
		if ok {
			slog.Warn("Filters refresh failed, serving stale copy",
				slog.String("symbol", symbol),
				slog.Any("error", err),
			)
			return entry.filters, nil
		}
		return Filters{}, fmt.Errorf("filters %s: %w: %v", symbol, ErrFiltersUnavailable, err)
	}

	m.mu.Lock()
	m.cache[symbol] = metaEntry{filters: fresh, fetchedAt: m.now()}
	m.mu.Unlock()
	return fresh, nil
}

// TickSize returns the price increment for symbol.
func (m *Meta) TickSize(ctx context.Context, symbol string) (float64, error) {
	f, err := m.Filters(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return f.TickSizeF(), nil
}

// RoundPriceQty floors price to the tick size and qty to the lot step,
// then validates the result. Flooring never submits more than asked.
func (m *Meta) RoundPriceQty(ctx context.Context, symbol string, price, qty float64) (float64, float64, error) {
	f, err := m.Filters(ctx, symbol)
	if err != nil {
		return 0, 0, err
	}

	pd := floorToStep(decimal.NewFromFloat(price), f.TickSize)
	qd := floorToStep(decimal.NewFromFloat(qty), f.StepSize)

	if qd.Sign() <= 0 {
		return 0, 0, fmt.Errorf("round %s qty %v: %w", symbol, qty, ErrQuantityZero)
	}
	if !f.MinNotional.IsZero() && pd.Mul(qd).LessThan(f.MinNotional) {
		return 0, 0, fmt.Errorf("round %s notional %s: %w", symbol, pd.Mul(qd).String(), ErrBelowMinNotional)
	}

	pf, _ := pd.Float64()
	qf, _ := qd.Float64()
	return pf, qf, nil
}

// Invalidate drops the cached entry so the next call refetches.
func (m *Meta) Invalidate(symbol string) {
	m.mu.Lock()
	delete(m.cache, symbol)
	m.mu.Unlock()
}

func floorToStep(v, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}
