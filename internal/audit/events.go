package audit

import "time"

// Event names. Every order lifecycle transition emits exactly one of
// the order_* events, in transition order.
const (
	EvOrderOpened   = "order_opened"
	EvOrderPartial  = "order_partial"
	EvOrderFilled   = "order_filled"
	EvOrderCanceled = "order_canceled"

	EvActionProposed = "action_proposed"
	EvActionRejected = "action_rejected"
	EvPositionClosed = "position_closed"
	EvBotCycle       = "bot_cycle"
	EvBookResync     = "book_resync"
)

// Event is one line of the append-only audit trail.
type Event struct {
	TsMS    int64          `json:"ts_ms"`
	Event   string         `json:"event"`
	Symbol  string         `json:"symbol,omitempty"`
	OrderID string         `json:"order_id,omitempty"`
	Qty     float64        `json:"qty,omitempty"`
	Price   float64        `json:"price,omitempty"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// NewEvent stamps an event with the current wall clock.
func NewEvent(name, symbol, orderID string, qty float64) Event {
	return Event{
		TsMS:    time.Now().UnixMilli(),
		Event:   name,
		Symbol:  symbol,
		OrderID: orderID,
		Qty:     qty,
	}
}
