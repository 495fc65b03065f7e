package domain

// Position represents accumulated exposure in one symbol.
type Position struct {
	Symbol      string  `json:"symbol"`
	Qty         float64 `json:"qty"`      // positive long, negative short
	AvgEntry    float64 `json:"avgEntry"` // weighted average entry price
	RealizedPnL float64 `json:"realizedPnl"`
}

// IsLong checks if the position is long.
func (p *Position) IsLong() bool {
	return p.Qty > 0
}

// IsShort checks if the position is short.
func (p *Position) IsShort() bool {
	return p.Qty < 0
}

// IsFlat checks if there is no exposure.
func (p *Position) IsFlat() bool {
	return p.Qty == 0
}

// ApplyFill folds an executed fill into the position. Buys extend the
// average entry; sells realize PnL against it. Fee is charged in quote
// terms against realized PnL.
func (p *Position) ApplyFill(side Side, qty, price, fee float64) {
	if qty <= 0 || price <= 0 {
		return
	}
	signed := qty
	if side == SideSell {
		signed = -qty
	}

	switch {
	case p.Qty == 0 || (p.Qty > 0) == (signed > 0):
		// Extending: new weighted average entry.
		total := p.Qty + signed
		p.AvgEntry = (p.AvgEntry*abs(p.Qty) + price*qty) / (abs(p.Qty) + qty)
		p.Qty = total
	default:
		// Reducing: realize against the average entry.
		direction := 1.0
		if p.Qty < 0 {
			direction = -1.0
		}
		closing := abs(p.Qty)
		if qty <= closing {
			p.RealizedPnL += direction * qty * (price - p.AvgEntry)
			p.Qty += signed
			if p.Qty == 0 {
				p.AvgEntry = 0
			}
		} else {
			// Close out entirely and flip; the remainder opens at price.
			p.RealizedPnL += direction * closing * (price - p.AvgEntry)
			p.Qty += signed
			p.AvgEntry = price
		}
	}

	p.RealizedPnL -= fee
}

// UnrealizedPnL marks the open quantity against the given price.
func (p *Position) UnrealizedPnL(mark float64) float64 {
	if p.Qty == 0 || mark <= 0 || p.AvgEntry <= 0 {
		return 0
	}
	return p.Qty * (mark - p.AvgEntry)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
