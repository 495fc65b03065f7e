package exchange

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// DepthSnapshot is the REST order book baseline for diff application.
// Levels arrive as ["price","qty"] string pairs.
type DepthSnapshot struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// OrderRecord is the venue's view of an order.
type OrderRecord struct {
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	Symbol              string `json:"symbol"`
	Status              string `json:"status"`
	Side                string `json:"side"`
	Type                string `json:"type"`
	Price               string `json:"price"`
	OrigQty             string `json:"origQty"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	TransactTime        int64  `json:"transactTime"`
}

// PriceF returns the limit price as float64.
func (r *OrderRecord) PriceF() float64 { return parseFloat(r.Price) }

// OrigQtyF returns the ordered quantity as float64.
func (r *OrderRecord) OrigQtyF() float64 { return parseFloat(r.OrigQty) }

// ExecutedQtyF returns the filled quantity as float64.
func (r *OrderRecord) ExecutedQtyF() float64 { return parseFloat(r.ExecutedQty) }

// AvgFillPrice derives the average fill price from the cumulative
// quote volume. Returns 0 while nothing is filled.
func (r *OrderRecord) AvgFillPrice() float64 {
	executed := r.ExecutedQtyF()
	if executed <= 0 {
		return 0
	}
	return parseFloat(r.CummulativeQuoteQty) / executed
}

// Balance is one asset row of the account endpoint.
type Balance struct {
	Free   float64 `json:"free,string"`
	Locked float64 `json:"locked,string"`
}

// Filters are the per-symbol trading constraints used to round and
// validate orders before submission. Values stay decimal so repeated
// rounding never drifts.
type Filters struct {
	Symbol      string
	TickSize    decimal.Decimal
	StepSize    decimal.Decimal
	MinNotional decimal.Decimal
}

// TickSizeF returns the tick size as float64 for book math.
func (f Filters) TickSizeF() float64 { v, _ := f.TickSize.Float64(); return v }

// Zero reports whether no usable constraints are present.
func (f Filters) Zero() bool {
	return f.TickSize.IsZero() && f.StepSize.IsZero() && f.MinNotional.IsZero()
}

// exchangeInfoResponse is the subset of the exchangeInfo payload we
// consume. Both the modern NOTIONAL and the legacy MIN_NOTIONAL filter
// names appear in the wild.
type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Status  string `json:"status"`
		Filters []struct {
			FilterType  string `json:"filterType"`
			TickSize    string `json:"tickSize"`
			StepSize    string `json:"stepSize"`
			MinNotional string `json:"minNotional"`
		} `json:"filters"`
	} `json:"symbols"`
}

// ticker24hEntry is one row of the 24hr statistics endpoint.
type ticker24hEntry struct {
	Symbol         string `json:"symbol"`
	LastPrice      string `json:"lastPrice"`
	PriceChangePct string `json:"priceChangePercent"`
	QuoteVolume    string `json:"quoteVolume"`
}

// accountResponse is the subset of the account endpoint we consume.
type accountResponse struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// trimFloat renders a float without trailing zeros, the shortest form
// the venue accepts in order parameters.
func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
