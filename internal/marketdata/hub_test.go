package marketdata

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/exchange"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/infra"
)

// fakeDepth scripts FetchDepth responses. Calls beyond gateAfter block
// until the gate channel is closed, which lets tests hold a resync in
// flight while feeding more events.
type fakeDepth struct {
	mu        sync.Mutex
	calls     int
	snapshots []*exchange.DepthSnapshot
	gateAfter int
	gate      chan struct{}
}

func (f *fakeDepth) FetchDepth(ctx context.Context, symbol string, limit int) (*exchange.DepthSnapshot, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()

	if f.gate != nil && n > f.gateAfter {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	idx := n - 1
	if idx >= len(f.snapshots) {
		idx = len(f.snapshots) - 1
	}
	return f.snapshots[idx], nil
}

func (f *fakeDepth) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testHubConfig() *infra.Config {
	cfg := infra.DefaultConfig()
	// Unreachable endpoint: the worker's dial loop just retries in the
	// background while tests feed frames through OnMessage directly.
	cfg.Binance.WSURL = "ws://127.0.0.1:1"
	cfg.Binance.MaxDepthSymbols = 5
	return cfg
}

func snapshotAt(id int64) *exchange.DepthSnapshot {
	return &exchange.DepthSnapshot{
		LastUpdateID: id,
		Bids:         [][]string{{"100.00", "1.0"}, {"99.00", "2.0"}},
		Asks:         [][]string{{"101.00", "1.0"}, {"102.00", "3.0"}},
	}
}

func depthFrame(symbol string, firstID, finalID int64, bids, asks string) []byte {
	return []byte(fmt.Sprintf(
		`{"stream":"%s@depth@100ms","data":{"e":"depthUpdate","E":1,"s":"%s","U":%d,"u":%d,"b":%s,"a":%s}}`,
		strings.ToLower(symbol), symbol, firstID, finalID, bids, asks,
	))
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

func startHub(t *testing.T, fetcher SnapshotFetcher) *Hub {
	t.Helper()
	h := NewHub(testHubConfig(), fetcher, nil)
	h.Subscribe("BTCUSDT")
	h.Start(context.Background())
	t.Cleanup(h.Stop)

	waitUntil(t, 3*time.Second, func() bool {
		_, ok := h.GetOrderBook("BTCUSDT", 0)
		return ok
	}, "initial snapshot never landed")
	return h
}

func TestHub_AppliesContiguousDiff(t *testing.T) {
	h := startHub(t, &fakeDepth{snapshots: []*exchange.DepthSnapshot{snapshotAt(100)}})

	h.OnMessage(context.Background(), depthFrame("BTCUSDT", 101, 102,
		`[["100.00","5.0"],["98.00","1.0"]]`, `[["101.00","0"]]`))

	snap, ok := h.GetOrderBook("BTCUSDT", 0)
	if !ok {
		t.Fatal("GetOrderBook() not found")
	}
	if snap.LastUpdateID != 102 {
		t.Errorf("LastUpdateID = %d, want 102", snap.LastUpdateID)
	}
	if snap.Bids[0].Price != 100.0 || snap.Bids[0].Qty != 5.0 {
		t.Errorf("best bid = %+v, want 100.00 x 5.0 (level replaced)", snap.Bids[0])
	}
	// Ask at 101 deleted by qty 0, so 102 is best now.
	if snap.Asks[0].Price != 102.0 {
		t.Errorf("best ask = %v, want 102.00 after delete", snap.Asks[0].Price)
	}
	if len(snap.Bids) != 3 {
		t.Errorf("len(bids) = %d, want 3 (98.00 added)", len(snap.Bids))
	}
}

func TestHub_DropsStaleDiff(t *testing.T) {
	h := startHub(t, &fakeDepth{snapshots: []*exchange.DepthSnapshot{snapshotAt(100)}})

	// Entirely at or below the snapshot id: must not change the book.
	h.OnMessage(context.Background(), depthFrame("BTCUSDT", 99, 100,
		`[["100.00","9.9"]]`, `[]`))

	snap, _ := h.GetOrderBook("BTCUSDT", 0)
	if snap.LastUpdateID != 100 {
		t.Errorf("LastUpdateID = %d, want 100", snap.LastUpdateID)
	}
	if snap.Bids[0].Qty != 1.0 {
		t.Errorf("best bid qty = %v, want 1.0 (stale diff must not apply)", snap.Bids[0].Qty)
	}
}

func TestHub_GapTriggersExactlyOneResync(t *testing.T) {
	fetcher := &fakeDepth{
		snapshots: []*exchange.DepthSnapshot{snapshotAt(100), snapshotAt(200)},
		gateAfter: 1,
		gate:      make(chan struct{}),
	}
	h := startHub(t, fetcher)

	// U jumps past lastUpdateID+1: gap. The resync fetch blocks on the
	// gate, so further gapped diffs arrive while one is in flight.
	h.OnMessage(context.Background(), depthFrame("BTCUSDT", 106, 107, `[]`, `[]`))
	h.OnMessage(context.Background(), depthFrame("BTCUSDT", 108, 109, `[]`, `[]`))
	h.OnMessage(context.Background(), depthFrame("BTCUSDT", 110, 111, `[]`, `[]`))

	close(fetcher.gate)

	waitUntil(t, 3*time.Second, func() bool {
		snap, ok := h.GetOrderBook("BTCUSDT", 0)
		return ok && snap.LastUpdateID == 200
	}, "resync snapshot never applied")

	if got := fetcher.callCount(); got != 2 {
		t.Errorf("FetchDepth calls = %d, want 2 (initial + one resync)", got)
	}
}

func TestHub_DiffsBeforeSnapshotAreDropped(t *testing.T) {
	fetcher := &fakeDepth{
		snapshots: []*exchange.DepthSnapshot{snapshotAt(100)},
		gateAfter: 0,
		gate:      make(chan struct{}),
	}
	h := NewHub(testHubConfig(), fetcher, nil)
	h.Subscribe("BTCUSDT")
	h.Start(context.Background())
	t.Cleanup(h.Stop)

	// Snapshot still gated: the book is not ready, diffs vanish.
	h.OnMessage(context.Background(), depthFrame("BTCUSDT", 1, 2, `[["50.00","1.0"]]`, `[]`))
	if _, ok := h.GetOrderBook("BTCUSDT", 0); ok {
		t.Fatal("GetOrderBook() ok before snapshot, want miss")
	}

	close(fetcher.gate)
	waitUntil(t, 3*time.Second, func() bool {
		snap, ok := h.GetOrderBook("BTCUSDT", 0)
		return ok && snap.LastUpdateID == 100
	}, "snapshot never applied")

	snap, _ := h.GetOrderBook("BTCUSDT", 0)
	for _, lvl := range snap.Bids {
		if lvl.Price == 50.0 {
			t.Error("pre-snapshot diff leaked into the book")
		}
	}
}

func TestHub_GetOrderBookDepthLimit(t *testing.T) {
	h := startHub(t, &fakeDepth{snapshots: []*exchange.DepthSnapshot{snapshotAt(100)}})

	snap, ok := h.GetOrderBook("BTCUSDT", 1)
	if !ok {
		t.Fatal("GetOrderBook() not found")
	}
	if len(snap.Bids) != 1 || len(snap.Asks) != 1 {
		t.Fatalf("levels = %d/%d, want 1/1", len(snap.Bids), len(snap.Asks))
	}
	if snap.Bids[0].Price != 100.0 {
		t.Errorf("best bid = %v, want 100.00 (descending)", snap.Bids[0].Price)
	}
	if snap.Asks[0].Price != 101.0 {
		t.Errorf("best ask = %v, want 101.00 (ascending)", snap.Asks[0].Price)
	}
}

func TestHub_TickerRouting(t *testing.T) {
	h := startHub(t, &fakeDepth{snapshots: []*exchange.DepthSnapshot{snapshotAt(100)}})

	h.OnMessage(context.Background(), []byte(
		`{"stream":"!bookTicker","data":{"u":7,"s":"ETHUSDT","b":"3000.10","B":"2.5","a":"3000.20","A":"1.5"}}`))

	tick, ok := h.Ticker("ETHUSDT")
	if !ok {
		t.Fatal("Ticker(ETHUSDT) not found")
	}
	if tick.BidPrice != 3000.10 || tick.AskPrice != 3000.20 {
		t.Errorf("ticker = %v/%v, want 3000.10/3000.20", tick.BidPrice, tick.AskPrice)
	}
	if tick.UpdateID != 7 {
		t.Errorf("UpdateID = %d, want 7", tick.UpdateID)
	}
}

func TestHub_StreamURL(t *testing.T) {
	h := NewHub(testHubConfig(), &fakeDepth{snapshots: []*exchange.DepthSnapshot{snapshotAt(1)}}, nil)
	h.Subscribe("ETHUSDT", "BTCUSDT")

	want := "ws://127.0.0.1:1/stream?streams=!bookTicker/btcusdt@depth@100ms/ethusdt@depth@100ms"
	if got := h.GetURL(); got != want {
		t.Errorf("GetURL() = %q, want %q", got, want)
	}
}

func TestHub_UnsubscribeDropsBook(t *testing.T) {
	h := startHub(t, &fakeDepth{snapshots: []*exchange.DepthSnapshot{snapshotAt(100)}})

	h.Unsubscribe("BTCUSDT")

	if _, ok := h.GetOrderBook("BTCUSDT", 0); ok {
		t.Error("GetOrderBook() ok after Unsubscribe")
	}
	if len(h.Subscribed()) != 0 {
		t.Errorf("Subscribed() = %v, want empty", h.Subscribed())
	}
}
