package book

import "time"

// Side identifies which side of the book an order rests on.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Level is a single price level of one book side.
type Level struct {
	Price float64 `json:"price"`
	Qty   float64 `json:"qty"`
}

// Snapshot is an immutable point-in-time copy of an order book.
// Bids are sorted descending by price, asks ascending; callers must not
// mutate the level slices. TickSize is the venue price increment when
// known, 0 otherwise.
type Snapshot struct {
	Symbol       string    `json:"symbol"`
	Bids         []Level   `json:"bids"`
	Asks         []Level   `json:"asks"`
	LastUpdateID int64     `json:"lastUpdateId"`
	UpdatedAt    time.Time `json:"updatedAt"`
	TickSize     float64   `json:"tickSize,omitempty"`
}

// BestBid returns the highest bid level.
func (s Snapshot) BestBid() (Level, bool) {
	if len(s.Bids) == 0 {
		return Level{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the lowest ask level.
func (s Snapshot) BestAsk() (Level, bool) {
	if len(s.Asks) == 0 {
		return Level{}, false
	}
	return s.Asks[0], true
}

// Mid returns the midpoint between best bid and best ask.
func (s Snapshot) Mid() (float64, bool) {
	bid, okB := s.BestBid()
	ask, okA := s.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	return (bid.Price + ask.Price) / 2, true
}

// Empty reports whether both sides are empty.
func (s Snapshot) Empty() bool {
	return len(s.Bids) == 0 && len(s.Asks) == 0
}
