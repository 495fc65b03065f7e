package domain

// ActionType enumerates the instructions an advisor may propose.
type ActionType string

const (
	ActionPlaceLimitBuy       ActionType = "PLACE_LIMIT_BUY"
	ActionPlaceLimitSell      ActionType = "PLACE_LIMIT_SELL"
	ActionCancelOrder         ActionType = "CANCEL_ORDER"
	ActionModifyOrder         ActionType = "MODIFY_ORDER"
	ActionClosePositionMarket ActionType = "CLOSE_POSITION_MARKET"
)

// Action is one proposed instruction for the decision engine. Proposals
// are validated before execution; invalid ones are dropped with an
// audit trail, never partially applied.
type Action struct {
	ID      string     `json:"id"`
	Type    ActionType `json:"type"`
	Symbol  string     `json:"symbol"`
	Price   float64    `json:"price,omitempty"`
	Qty     float64    `json:"qty,omitempty"`
	OrderID string     `json:"orderId,omitempty"`
	Reason  string     `json:"reason,omitempty"`
}

// Trade is a closed round trip, kept for session statistics.
type Trade struct {
	Symbol     string  `json:"symbol"`
	Qty        float64 `json:"qty"`
	EntryPrice float64 `json:"entryPrice"`
	ExitPrice  float64 `json:"exitPrice"`
	PnL        float64 `json:"pnl"`
}

// Adjust asks the order monitor to reprice or resize a resting order.
// Zero fields mean "leave unchanged".
type Adjust struct {
	Price float64 `json:"price,omitempty"`
	Qty   float64 `json:"qty,omitempty"`
}
