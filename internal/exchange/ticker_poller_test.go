package exchange

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/domain"
)

type fakeStats struct {
	rows  []domain.Ticker24h
	err   error
	calls atomic.Int32
}

func (f *fakeStats) FetchTickers24h(ctx context.Context) ([]domain.Ticker24h, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func TestTickerPoller_InitialFetch(t *testing.T) {
	fetcher := &fakeStats{rows: []domain.Ticker24h{
		{Symbol: "BTCUSDT", LastPrice: 50000, QuoteVolume: 1e6},
		{Symbol: "ETHUSDT", LastPrice: 3000, QuoteVolume: 5e5},
	}}

	poller := NewTickerPoller(fetcher, time.Hour, nil)
	if err := poller.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer poller.Stop()

	// Start fetches synchronously, so data is available right away.
	btc, ok := poller.Get("BTCUSDT")
	if !ok {
		t.Fatal("Get(BTCUSDT) not found after Start")
	}
	if btc.LastPrice != 50000 {
		t.Errorf("LastPrice = %v, want 50000", btc.LastPrice)
	}
	if n := len(poller.All()); n != 2 {
		t.Errorf("len(All()) = %d, want 2", n)
	}
	if poller.AsOf().IsZero() {
		t.Error("AsOf() is zero after successful fetch")
	}
}

func TestTickerPoller_OnUpdateCallback(t *testing.T) {
	fetcher := &fakeStats{rows: []domain.Ticker24h{{Symbol: "BTCUSDT", LastPrice: 1}}}

	var got atomic.Int32
	poller := NewTickerPoller(fetcher, time.Hour, func(snap map[string]domain.Ticker24h) {
		got.Store(int32(len(snap)))
	})
	if err := poller.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer poller.Stop()

	if got.Load() != 1 {
		t.Errorf("callback snapshot size = %d, want 1", got.Load())
	}
}

func TestTickerPoller_SurvivesInitialFailure(t *testing.T) {
	fetcher := &fakeStats{err: errors.New("venue down")}

	poller := NewTickerPoller(fetcher, time.Hour, nil)
	if err := poller.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v (failed fetch must not abort start)", err)
	}
	poller.Stop()

	if _, ok := poller.Get("BTCUSDT"); ok {
		t.Error("Get should miss when every fetch failed")
	}
	if fetcher.calls.Load() < 3 {
		t.Errorf("calls = %d, want >= 3 (retry logic)", fetcher.calls.Load())
	}
}
