package marketdata

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/btree"

	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/domain"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/exchange"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/infra"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/metrics"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/pkg/book"
)

// SnapshotFetcher retrieves REST depth snapshots. Implemented by
// exchange.Client; faked in tests.
type SnapshotFetcher interface {
	FetchDepth(ctx context.Context, symbol string, limit int) (*exchange.DepthSnapshot, error)
}

// symbolBook is the live state of one order book. Sides are ordered
// maps price->qty; bids read best-first in reverse, asks in order.
// ready flips once the first REST snapshot lands; until then incoming
// diffs are dropped. resyncing guards the single in-flight snapshot.
type symbolBook struct {
	bids         *btree.Map[float64, float64]
	asks         *btree.Map[float64, float64]
	lastUpdateID int64
	updatedAt    time.Time
	ready        bool
	resyncing    bool
}

func newSymbolBook() *symbolBook {
	return &symbolBook{
		bids: &btree.Map[float64, float64]{},
		asks: &btree.Map[float64, float64]{},
	}
}

// Hub owns live order books for a bounded, dynamic symbol set. One
// combined websocket stream carries !bookTicker plus a depth diff
// stream per tracked symbol; REST snapshots establish the baseline each
// diff sequence is applied against.
type Hub struct {
	wsBase        string
	streamSpeed   string
	snapshotLimit int

	fetcher SnapshotFetcher
	metrics *metrics.Metrics
	subs    *SubscriptionManager
	worker  *infra.BaseWSWorker

	mu      sync.RWMutex
	books   map[string]*symbolBook
	tickers map[string]domain.BookTicker

	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewHub creates a hub sized and pointed per config. Start must be
// called before any data flows.
func NewHub(cfg *infra.Config, fetcher SnapshotFetcher, m *metrics.Metrics) *Hub {
	h := &Hub{
		wsBase:        strings.TrimRight(cfg.Binance.WSURL, "/"),
		streamSpeed:   cfg.Binance.StreamSpeed,
		snapshotLimit: cfg.Binance.SnapshotLimit,
		fetcher:       fetcher,
		metrics:       m,
		books:         make(map[string]*symbolBook),
		tickers:       make(map[string]domain.BookTicker),
	}
	h.subs = NewSubscriptions(cfg.Binance.MaxDepthSymbols, h.handleEvict)
	h.worker = infra.NewBaseWSWorker(h)
	return h
}

// Start connects the stream and schedules snapshots for any symbols
// subscribed before startup.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return
	}
	h.ctx, h.cancel = context.WithCancel(ctx)
	h.started = true
	pending := make([]string, 0, len(h.books))
	for sym, b := range h.books {
		if !b.ready && !b.resyncing {
			pending = append(pending, sym)
		}
	}
	h.mu.Unlock()

	h.worker.Start(h.ctx)
	for _, sym := range pending {
		h.requestResync(sym)
	}
	slog.Info("✅ Market data hub started", "symbols", h.subs.Len())
}

// Stop tears down the stream and waits for snapshot fetches to finish.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	h.cancel()
	h.worker.Stop()
	h.wg.Wait()
}

// Subscribe starts tracking symbols. Adding a symbol beyond capacity
// evicts the least recently read one. Any change to the set kicks the
// socket so it redials with the rebuilt stream URL.
func (h *Hub) Subscribe(symbols ...string) {
	changed := false
	for _, sym := range symbols {
		sym = strings.ToUpper(sym)
		if h.subs.Contains(sym) {
			h.subs.Touch(sym)
			continue
		}
		if !h.subs.Request(sym) {
			slog.Warn("Depth subscription rejected, zero capacity", "symbol", sym)
			continue
		}

		h.mu.Lock()
		h.books[sym] = newSymbolBook()
		h.mu.Unlock()

		h.requestResync(sym)
		changed = true
	}

	if changed {
		h.metrics.SetTrackedSymbols(h.subs.Len())
		h.worker.Kick()
	}
}

// Unsubscribe drops symbols and their book state.
func (h *Hub) Unsubscribe(symbols ...string) {
	changed := false
	for _, sym := range symbols {
		sym = strings.ToUpper(sym)
		if !h.subs.Contains(sym) {
			continue
		}
		h.subs.Remove(sym)

		h.mu.Lock()
		delete(h.books, sym)
		delete(h.tickers, sym)
		h.mu.Unlock()
		changed = true
	}

	if changed {
		h.metrics.SetTrackedSymbols(h.subs.Len())
		h.worker.Kick()
	}
}

// Subscribed returns the tracked symbol set.
func (h *Hub) Subscribed() []string { return h.subs.Active() }

// GetOrderBook returns a deep-copied top-depth view of a tracked book.
// depth <= 0 copies every level. Reading counts as activity for LRU
// eviction purposes.
func (h *Hub) GetOrderBook(symbol string, depth int) (book.Snapshot, bool) {
	h.mu.RLock()
	b, ok := h.books[symbol]
	if !ok || !b.ready {
		h.mu.RUnlock()
		return book.Snapshot{}, false
	}

	snap := book.Snapshot{
		Symbol:       symbol,
		Bids:         make([]book.Level, 0, capHint(depth, b.bids.Len())),
		Asks:         make([]book.Level, 0, capHint(depth, b.asks.Len())),
		LastUpdateID: b.lastUpdateID,
		UpdatedAt:    b.updatedAt,
	}
	b.bids.Reverse(func(price, qty float64) bool {
		snap.Bids = append(snap.Bids, book.Level{Price: price, Qty: qty})
		return depth <= 0 || len(snap.Bids) < depth
	})
	b.asks.Scan(func(price, qty float64) bool {
		snap.Asks = append(snap.Asks, book.Level{Price: price, Qty: qty})
		return depth <= 0 || len(snap.Asks) < depth
	})
	h.mu.RUnlock()

	h.subs.Touch(symbol)
	return snap, true
}

// Ticker returns the latest best bid/ask seen on !bookTicker.
func (h *Hub) Ticker(symbol string) (domain.BookTicker, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, ok := h.tickers[symbol]
	return t, ok
}

// Resync forces a fresh snapshot for symbol. No-op while one is
// already in flight.
func (h *Hub) Resync(symbol string) {
	h.requestResync(strings.ToUpper(symbol))
}

// handleEvict is the subscription manager's eviction callback.
func (h *Hub) handleEvict(symbol string) {
	h.mu.Lock()
	delete(h.books, symbol)
	delete(h.tickers, symbol)
	h.mu.Unlock()
	slog.Info("Depth subscription evicted", "symbol", symbol)
}

// requestResync transitions symbol into resyncing and spawns the
// single snapshot fetcher. Duplicate requests while one is in flight
// schedule nothing.
func (h *Hub) requestResync(symbol string) {
	h.mu.Lock()
	b, ok := h.books[symbol]
	if !ok || !h.started || b.resyncing {
		h.mu.Unlock()
		return
	}
	b.resyncing = true
	h.mu.Unlock()

	h.wg.Add(1)
	go h.fetchSnapshot(symbol)
}

// fetchSnapshot retries until the snapshot lands, the symbol is
// dropped, or the hub shuts down.
func (h *Hub) fetchSnapshot(symbol string) {
	defer h.wg.Done()

	for attempt := 0; ; attempt++ {
		if h.ctx.Err() != nil {
			return
		}
		if !h.subs.Contains(symbol) {
			return
		}

		snap, err := h.fetcher.FetchDepth(h.ctx, symbol, h.snapshotLimit)
		if err != nil {
			h.metrics.RecordSnapshotFailure()
			slog.Warn("Depth snapshot failed", "symbol", symbol, "attempt", attempt+1, "err", err)
			select {
			case <-h.ctx.Done():
				return
			case <-time.After(infra.JitteredBackoff(attempt)):
			}
			continue
		}

		h.applySnapshot(symbol, snap)
		h.metrics.RecordSnapshot()
		return
	}
}

// applySnapshot replaces both sides wholesale and clears resyncing.
// Diffs older than the snapshot id are discarded afterwards by the
// stale rule.
func (h *Hub) applySnapshot(symbol string, snap *exchange.DepthSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.books[symbol]
	if !ok {
		return
	}

	b.bids = &btree.Map[float64, float64]{}
	b.asks = &btree.Map[float64, float64]{}
	for _, pair := range snap.Bids {
		if price, qty, ok := parseLevel(pair); ok && qty > 0 {
			b.bids.Set(price, qty)
		}
	}
	for _, pair := range snap.Asks {
		if price, qty, ok := parseLevel(pair); ok && qty > 0 {
			b.asks.Set(price, qty)
		}
	}
	b.lastUpdateID = snap.LastUpdateID
	b.updatedAt = time.Now()
	b.ready = true
	b.resyncing = false

	slog.Debug("Depth snapshot applied",
		"symbol", symbol,
		"lastUpdateId", snap.LastUpdateID,
		"bids", b.bids.Len(),
		"asks", b.asks.Len(),
	)
}

// GetURL builds the combined stream URL from the current symbol set.
// Called by the worker on every (re)connect.
func (h *Hub) GetURL() string {
	streams := []string{"!bookTicker"}
	for _, sym := range h.subs.Active() {
		streams = append(streams, strings.ToLower(sym)+"@depth@"+h.streamSpeed)
	}
	return h.wsBase + "/stream?streams=" + strings.Join(streams, "/")
}

// OnConnect counts the session. Subscriptions ride in the URL, so no
// subscribe frames are sent.
func (h *Hub) OnConnect(ctx context.Context, conn *websocket.Conn) error {
	h.metrics.RecordReconnect()
	return nil
}

// OnMessage routes one combined-stream frame.
func (h *Hub) OnMessage(ctx context.Context, msg []byte) {
	var frame combinedFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		slog.Debug("Unparseable stream frame", "err", err)
		return
	}

	switch {
	case frame.Stream == "!bookTicker":
		h.handleTicker(frame.Data)
	case strings.Contains(frame.Stream, "@depth"):
		h.handleDepth(frame.Data)
	}
}

// OnPing answers the keepalive ticker with an unsolicited pong, which
// the venue accepts as liveness.
func (h *Hub) OnPing(ctx context.Context, conn *websocket.Conn) error {
	return conn.WriteControl(websocket.PongMessage, nil, time.Now().Add(5*time.Second))
}

// ID identifies the worker in logs.
func (h *Hub) ID() string { return "binance-marketdata" }

// handleDepth applies one diff under the hub mutex.
//
// Ordering rules against the current lastUpdateID L:
//
//	u <= L        stale, drop
//	U >  L+1      gap, request one resync, drop
//	otherwise     apply, L = u
func (h *Hub) handleDepth(data json.RawMessage) {
	var ev depthEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		slog.Debug("Unparseable depth event", "err", err)
		return
	}

	h.mu.Lock()
	b, ok := h.books[ev.Symbol]
	if !ok || !b.ready || b.resyncing {
		h.mu.Unlock()
		return
	}

	if ev.FinalID <= b.lastUpdateID {
		h.mu.Unlock()
		h.metrics.RecordDiffStale()
		return
	}

	if ev.FirstID > b.lastUpdateID+1 {
		gapFrom := b.lastUpdateID
		h.mu.Unlock()
		h.metrics.RecordGap()
		slog.Warn("Depth gap, resyncing",
			"symbol", ev.Symbol,
			"lastUpdateId", gapFrom,
			"firstId", ev.FirstID,
		)
		h.requestResync(ev.Symbol)
		return
	}

	applyDiffSide(b.bids, ev.Bids)
	applyDiffSide(b.asks, ev.Asks)
	b.lastUpdateID = ev.FinalID
	b.updatedAt = time.Now()
	h.mu.Unlock()

	h.metrics.RecordDiffApplied()
}

// handleTicker stores the latest best bid/ask for every symbol on the
// venue-wide !bookTicker stream.
func (h *Hub) handleTicker(data json.RawMessage) {
	var ev bookTickerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}

	t := domain.BookTicker{
		Symbol:   ev.Symbol,
		BidPrice: parsePrice(ev.BidPrice),
		BidQty:   parsePrice(ev.BidQty),
		AskPrice: parsePrice(ev.AskPrice),
		AskQty:   parsePrice(ev.AskQty),
		UpdateID: ev.UpdateID,
		At:       time.Now(),
	}

	h.mu.Lock()
	h.tickers[ev.Symbol] = t
	h.mu.Unlock()
}

// applyDiffSide mutates one side in place: qty 0 deletes the level.
func applyDiffSide(side *btree.Map[float64, float64], pairs [][]string) {
	for _, pair := range pairs {
		price, qty, ok := parseLevel(pair)
		if !ok {
			continue
		}
		if qty == 0 {
			side.Delete(price)
		} else {
			side.Set(price, qty)
		}
	}
}

func capHint(depth, total int) int {
	if depth > 0 && depth < total {
		return depth
	}
	return total
}
