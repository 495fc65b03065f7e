package domain

import "time"

// Side of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Status values follow the exchange wire format.
type Status string

const (
	StatusNew             Status = "NEW"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCanceled        Status = "CANCELED"
	StatusRejected        Status = "REJECTED"
	StatusExpired         Status = "EXPIRED"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Order represents a limit order under management.
// Prices and quantities are float64 end-to-end; exchange filter
// rounding happens before an Order is built.
type Order struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	Type        string    `json:"type"` // "LIMIT"
	Price       float64   `json:"price"`
	Amount      float64   `json:"amount"`
	Filled      float64   `json:"filled"`
	ExecutedQty float64   `json:"executedQty"` // wire-format mirror of Filled
	AvgPrice    float64   `json:"avgPrice"`
	Status      Status    `json:"status"`
	Mode        string    `json:"mode"` // SIM | MASS | LIVE
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// IsOpen checks if the order is still active.
func (o *Order) IsOpen() bool {
	return o.Status == StatusNew || o.Status == StatusPartiallyFilled
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() float64 {
	rem := o.Amount - o.Filled
	if rem < 0 {
		return 0
	}
	return rem
}

// RecordFill applies a fill increment, keeping Filled monotonic and
// capped at Amount, mirroring ExecutedQty, and advancing the status.
// Terminal orders are never mutated.
func (o *Order) RecordFill(qty float64) float64 {
	if qty <= 0 || o.Status.Terminal() {
		return 0
	}
	if qty > o.Remaining() {
		qty = o.Remaining()
	}
	o.Filled += qty
	o.ExecutedQty = o.Filled
	o.UpdatedAt = time.Now()

	if o.Remaining() <= 1e-12 {
		o.Filled = o.Amount
		o.ExecutedQty = o.Amount
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartiallyFilled
	}
	return qty
}

// MarkCanceled moves a non-terminal order to CANCELED.
func (o *Order) MarkCanceled() bool {
	if o.Status.Terminal() {
		return false
	}
	o.Status = StatusCanceled
	o.UpdatedAt = time.Now()
	return true
}

// Fill describes one executed increment observed during monitoring.
type Fill struct {
	Qty       float64 `json:"qty"`       // this increment
	Executed  float64 `json:"executed"`  // cumulative after the increment
	Remaining float64 `json:"remaining"`
	Price     float64 `json:"price"`
	Reason    string  `json:"reason"` // "sim", "sim_mass", "live"
}
