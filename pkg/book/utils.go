package book

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// TryFillLimit simulates walking the opposing side of the book with a
// limit order. A buy consumes asks priced at or below limit, a sell
// consumes bids priced at or above limit, always best price first.
// It returns the filled quantity and the volume-weighted average price.
// ok is false when the order does not cross at all.
func (s Snapshot) TryFillLimit(side Side, limit, qty float64) (filled, vwap float64, ok bool) {
	if qty <= 0 || limit <= 0 {
		return 0, 0, false
	}

	var levels []Level
	var crosses func(price float64) bool
	switch side {
	case Buy:
		levels = s.Asks
		crosses = func(price float64) bool { return price <= limit }
	case Sell:
		levels = s.Bids
		crosses = func(price float64) bool { return price >= limit }
	default:
		return 0, 0, false
	}

	remaining := qty
	var notional float64
	for _, lvl := range levels {
		if !crosses(lvl.Price) || remaining <= 0 {
			break
		}
		take := lvl.Qty
		if take > remaining {
			take = remaining
		}
		filled += take
		notional += take * lvl.Price
		remaining -= take
	}

	if filled <= 0 {
		return 0, 0, false
	}
	return filled, notional / filled, true
}

// Imbalance returns top-of-book buy pressure: summed bid quantity over
// total quantity across the top depth levels of both sides. Returns 0
// when either side is empty.
func (s Snapshot) Imbalance(depth int) float64 {
	if depth <= 0 || len(s.Bids) == 0 || len(s.Asks) == 0 {
		return 0
	}
	var bidQty, askQty float64
	for i := 0; i < depth && i < len(s.Bids); i++ {
		bidQty += s.Bids[i].Qty
	}
	for i := 0; i < depth && i < len(s.Asks); i++ {
		askQty += s.Asks[i].Qty
	}
	total := bidQty + askQty
	if total <= 0 {
		return 0
	}
	return bidQty / total
}

// SpreadTicks returns the bid/ask spread expressed in ticks.
// Returns 0 when the book is one-sided or tick is not positive.
func (s Snapshot) SpreadTicks(tick float64) float64 {
	bid, okB := s.BestBid()
	ask, okA := s.BestAsk()
	if !okB || !okA || tick <= 0 {
		return 0
	}
	return (ask.Price - bid.Price) / tick
}

// hashView pins the canonical JSON layout hashed by Hash. Only the top
// levels participate, so snapshot metadata changes never alter the digest.
type hashView struct {
	Asks [][2]float64 `json:"asks"`
	Bids [][2]float64 `json:"bids"`
}

// Hash returns a hex sha256 digest of the top depth levels of both
// sides. Two snapshots with identical levels hash identically regardless
// of symbol, timestamps or update ids.
func (s Snapshot) Hash(depth int) string {
	view := hashView{Asks: [][2]float64{}, Bids: [][2]float64{}}
	for i := 0; i < depth && i < len(s.Asks); i++ {
		view.Asks = append(view.Asks, [2]float64{s.Asks[i].Price, s.Asks[i].Qty})
	}
	for i := 0; i < depth && i < len(s.Bids); i++ {
		view.Bids = append(view.Bids, [2]float64{s.Bids[i].Price, s.Bids[i].Qty})
	}
	raw, _ := json.Marshal(view)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// QueueAhead estimates the resting quantity that fills before an order
// of ownQty at price on the given side: everything at strictly better
// prices, plus what already rests at the same price, plus the order
// itself.
func (s Snapshot) QueueAhead(side Side, price, ownQty float64) float64 {
	queue := ownQty
	switch side {
	case Buy:
		for _, lvl := range s.Bids {
			if lvl.Price >= price {
				queue += lvl.Qty
			}
		}
	case Sell:
		for _, lvl := range s.Asks {
			if lvl.Price <= price {
				queue += lvl.Qty
			}
		}
	}
	return queue
}

// EstimateFillTime projects how long an order needs to reach the front
// of its queue given an observed trade rate in quantity per second.
// ok is false when no usable trade rate is available.
func (s Snapshot) EstimateFillTime(side Side, price, ownQty, tradeRate float64) (time.Duration, bool) {
	if tradeRate <= 0 {
		return 0, false
	}
	queue := s.QueueAhead(side, price, ownQty)
	secs := queue / tradeRate
	return time.Duration(secs * float64(time.Second)), true
}
