package engine

import (
	"math"
	"time"

	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/domain"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/scoring"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/pkg/book"
)

// observeDepth is how many levels per side feed the depth and imbalance
// metrics each cycle.
const observeDepth = 20

// midWindowSize bounds the per-symbol mid history used for momentum and
// micro-volatility.
const midWindowSize = 20

// Observation is one symbol's market view for a single engine cycle.
type Observation struct {
	Symbol string
	Book   book.Snapshot

	BestBid    float64
	BestBidQty float64
	BestAsk    float64
	BestAskQty float64
	Mid        float64

	SpreadAbs   float64
	SpreadTicks float64
	Imbalance   float64 // [-1,1], positive = bid heavy
	DepthBuy    float64
	DepthSell   float64

	PctWindow   float64 // mid change over the rolling window, percent
	MicroVol    float64 // stddev of per-cycle mid returns
	Momentum24h float64 // 24h percent change from the stats poller

	EdgeBps float64 // spread capture minus round-trip fees, basis points

	Score      float64
	Components scoring.Breakdown
}

// ObservationSet is everything the advisor sees for one cycle,
// observations sorted best score first.
type ObservationSet struct {
	Cycle        int64
	At           time.Time
	Observations []Observation
}

// Lookup returns the observation for symbol, if present.
func (s ObservationSet) Lookup(symbol string) (Observation, bool) {
	for _, o := range s.Observations {
		if o.Symbol == symbol {
			return o, true
		}
	}
	return Observation{}, false
}

// midWindow is the rolling mid-price history of one symbol.
type midWindow struct {
	mids []float64
}

func (w *midWindow) push(mid float64) {
	w.mids = append(w.mids, mid)
	if len(w.mids) > midWindowSize {
		w.mids = w.mids[len(w.mids)-midWindowSize:]
	}
}

// pctChange is the percent move from the oldest to the newest mid.
func (w *midWindow) pctChange() float64 {
	if len(w.mids) < 2 {
		return 0
	}
	first := w.mids[0]
	last := w.mids[len(w.mids)-1]
	if first <= 0 {
		return 0
	}
	return (last - first) / first * 100.0
}

// microVol is the standard deviation of per-step relative returns.
func (w *midWindow) microVol() float64 {
	if len(w.mids) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(w.mids)-1)
	for i := 1; i < len(w.mids); i++ {
		prev := w.mids[i-1]
		if prev <= 0 {
			continue
		}
		returns = append(returns, (w.mids[i]-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	return math.Sqrt(variance)
}

// observer builds per-symbol observations, keeping the mid history
// between cycles. Not safe for concurrent use; the engine calls it from
// the cycle loop only.
type observer struct {
	feePerSide float64
	tickSize   float64 // fallback when the book carries none
	windows    map[string]*midWindow
}

func newObserver(feePerSide, fallbackTick float64) *observer {
	return &observer{
		feePerSide: feePerSide,
		tickSize:   fallbackTick,
		windows:    make(map[string]*midWindow),
	}
}

// observe derives one Observation from a book snapshot plus the 24h
// stats. ok is false when the book has no two-sided market yet.
func (ob *observer) observe(snap book.Snapshot, stats domain.Ticker24h) (Observation, bool) {
	bid, okBid := snap.BestBid()
	ask, okAsk := snap.BestAsk()
	if !okBid || !okAsk {
		return Observation{}, false
	}

	mid := (bid.Price + ask.Price) / 2
	w := ob.windows[snap.Symbol]
	if w == nil {
		w = &midWindow{}
		ob.windows[snap.Symbol] = w
	}
	w.push(mid)

	tick := snap.TickSize
	if tick <= 0 {
		tick = ob.tickSize
	}

	o := Observation{
		Symbol:      snap.Symbol,
		Book:        snap,
		BestBid:     bid.Price,
		BestBidQty:  bid.Qty,
		BestAsk:     ask.Price,
		BestAskQty:  ask.Qty,
		Mid:         mid,
		SpreadAbs:   ask.Price - bid.Price,
		SpreadTicks: snap.SpreadTicks(tick),
		Imbalance:   snap.Imbalance(observeDepth),
		DepthBuy:    sideDepth(snap.Bids, observeDepth),
		DepthSell:   sideDepth(snap.Asks, observeDepth),
		PctWindow:   w.pctChange(),
		MicroVol:    w.microVol(),
		Momentum24h: stats.PriceChangePct,
	}

	if mid > 0 {
		feeCost := 2 * ob.feePerSide * mid
		o.EdgeBps = (o.SpreadAbs - feeCost) / mid * 1e4
	}

	o.Score, o.Components = scoring.ScoreWithWeights(ob.features(o), scoring.DefaultWeights())
	return o, true
}

// features maps an observation onto scoring inputs. Multi-frame trend
// history is not tracked here; the 24h momentum stands in for the daily
// frame and the rolling window for the minute frame.
func (ob *observer) features(o Observation) scoring.Features {
	buyRatio := 0.5
	total := o.DepthBuy + o.DepthSell
	if total > 0 {
		buyRatio = o.DepthBuy / total
	}

	return scoring.Features{
		TrendDayPct:       o.Momentum24h,
		TrendMinutePct:    o.PctWindow,
		PctChangeWindow:   o.PctWindow,
		BestBidQty:        o.BestBidQty,
		BestAskQty:        o.BestAskQty,
		DepthBuy:          o.DepthBuy,
		DepthSell:         o.DepthSell,
		TradeFlowBuyRatio: buyRatio,
		MicroVolatility:   o.MicroVol,
		SpreadAbs:         o.SpreadAbs,
		Mid:               o.Mid,
	}
}

// forget drops the history of symbols no longer tracked.
func (ob *observer) forget(active map[string]bool) {
	for sym := range ob.windows {
		if !active[sym] {
			delete(ob.windows, sym)
		}
	}
}

func sideDepth(levels []book.Level, depth int) float64 {
	var sum float64
	for i, lvl := range levels {
		if depth > 0 && i >= depth {
			break
		}
		sum += lvl.Qty
	}
	return sum
}
