package exchange

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/domain"
)

// StatsFetcher retrieves the venue-wide 24h statistics.
type StatsFetcher interface {
	FetchTickers24h(ctx context.Context) ([]domain.Ticker24h, error)
}

// TickerPoller keeps a periodically refreshed snapshot of 24h
// statistics for every symbol. Scoring and universe selection read
// from it instead of hitting the REST endpoint per cycle.
type TickerPoller struct {
	fetcher      StatsFetcher
	onUpdate     func(map[string]domain.Ticker24h)
	pollInterval time.Duration

	mu      sync.RWMutex
	tickers map[string]domain.Ticker24h
	asOf    time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTickerPoller creates a poller. onUpdate may be nil; when set it
// runs after every successful refresh with the full snapshot.
func NewTickerPoller(fetcher StatsFetcher, interval time.Duration, onUpdate func(map[string]domain.Ticker24h)) *TickerPoller {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &TickerPoller{
		fetcher:      fetcher,
		onUpdate:     onUpdate,
		pollInterval: interval,
		tickers:      make(map[string]domain.Ticker24h),
	}
}

// Start begins polling. The first fetch happens immediately so callers
// have data before the first interval elapses.
func (p *TickerPoller) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)

	if err := p.fetch(ctx); err != nil {
		slog.Warn("Initial 24h stats fetch failed", slog.Any("error", err))
		// Continue anyway - will retry on next tick
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Ticker polling panic recovered", slog.Any("panic", r))
			}
		}()

		ticker := time.NewTicker(p.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("Ticker polling stopped")
				return
			case <-ticker.C:
				if err := p.fetch(ctx); err != nil {
					slog.Warn("24h stats fetch failed", slog.Any("error", err))
				}
			}
		}
	}()

	return nil
}

// fetch refreshes the snapshot with retry logic.
func (p *TickerPoller) fetch(ctx context.Context) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if i > 0 {
			delay := time.Duration(1<<uint(i-1)) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		rows, err := p.fetcher.FetchTickers24h(ctx)
		if err == nil {
			snapshot := make(map[string]domain.Ticker24h, len(rows))
			for _, t := range rows {
				snapshot[t.Symbol] = t
			}

			p.mu.Lock()
			p.tickers = snapshot
			p.asOf = time.Now()
			p.mu.Unlock()

			if p.onUpdate != nil {
				p.onUpdate(snapshot)
			}
			return nil
		}
		lastErr = err
		slog.Warn("24h stats fetch attempt failed", slog.Int("attempt", i+1), slog.Any("error", err))
	}
	return lastErr
}

// Stop stops the polling.
func (p *TickerPoller) Stop() {
	if p.cancel != nil {
		p.cancel()
		p.wg.Wait()
	}
}

// Get returns the stats row for one symbol.
func (p *TickerPoller) Get(symbol string) (domain.Ticker24h, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.tickers[symbol]
	return t, ok
}

// All returns a copy of the current snapshot.
func (p *TickerPoller) All() map[string]domain.Ticker24h {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]domain.Ticker24h, len(p.tickers))
	for k, v := range p.tickers {
		out[k] = v
	}
	return out
}

// AsOf reports when the snapshot was last refreshed.
func (p *TickerPoller) AsOf() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.asOf
}
