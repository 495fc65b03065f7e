package marketdata

import (
	"encoding/json"
	"strconv"
)

// combinedFrame wraps every message on a combined stream connection.
type combinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// depthEvent is an incremental order book update. U/u delimit the
// update-id range this diff covers; b/a carry ["price","qty"] pairs
// where qty 0 removes the level.
type depthEvent struct {
	Event     string     `json:"e"`
	EventTime int64      `json:"E"`
	Symbol    string     `json:"s"`
	FirstID   int64      `json:"U"`
	FinalID   int64      `json:"u"`
	Bids      [][]string `json:"b"`
	Asks      [][]string `json:"a"`
}

// bookTickerEvent is a best bid/ask update from the !bookTicker stream.
type bookTickerEvent struct {
	UpdateID int64  `json:"u"`
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	BidQty   string `json:"B"`
	AskPrice string `json:"a"`
	AskQty   string `json:"A"`
}

// parseLevel decodes one ["price","qty"] pair. Malformed pairs are
// reported rather than silently treated as zero.
func parseLevel(pair []string) (price, qty float64, ok bool) {
	if len(pair) < 2 {
		return 0, 0, false
	}
	price, errP := strconv.ParseFloat(pair[0], 64)
	qty, errQ := strconv.ParseFloat(pair[1], 64)
	if errP != nil || errQ != nil {
		return 0, 0, false
	}
	return price, qty, true
}

func parsePrice(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
