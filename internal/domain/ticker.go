package domain

import "time"

// BookTicker is the latest best bid/ask observed on the stream.
type BookTicker struct {
	Symbol   string    `json:"symbol"`
	BidPrice float64   `json:"bidPrice"`
	BidQty   float64   `json:"bidQty"`
	AskPrice float64   `json:"askPrice"`
	AskQty   float64   `json:"askQty"`
	UpdateID int64     `json:"updateId"`
	At       time.Time `json:"at"`
}

// Spread returns ask minus bid, 0 when one side is missing.
func (t BookTicker) Spread() float64 {
	if t.BidPrice <= 0 || t.AskPrice <= 0 {
		return 0
	}
	return t.AskPrice - t.BidPrice
}

// Mid returns the midpoint price, 0 when one side is missing.
func (t BookTicker) Mid() float64 {
	if t.BidPrice <= 0 || t.AskPrice <= 0 {
		return 0
	}
	return (t.BidPrice + t.AskPrice) / 2
}

// Ticker24h carries rolling 24h statistics for one symbol, refreshed by
// the REST poller and consumed by the decision engine.
type Ticker24h struct {
	Symbol         string  `json:"symbol"`
	LastPrice      float64 `json:"lastPrice"`
	PriceChangePct float64 `json:"priceChangePercent"`
	QuoteVolume    float64 `json:"quoteVolume"`
}
