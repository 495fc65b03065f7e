package domain

import "testing"

func TestBookTicker_SpreadAndMid(t *testing.T) {
	t.Run("Normal Calculation", func(t *testing.T) {
		tk := BookTicker{BidPrice: 100, BidQty: 2, AskPrice: 101, AskQty: 1}

		if got := tk.Spread(); got != 1 {
			t.Errorf("Spread() = %v, want 1", got)
		}
		if got := tk.Mid(); got != 100.5 {
			t.Errorf("Mid() = %v, want 100.5", got)
		}
	})

	t.Run("Safety: Missing Side", func(t *testing.T) {
		tk := BookTicker{BidPrice: 100}
		if tk.Spread() != 0 {
			t.Error("Spread should return 0 when ask is missing")
		}
		if tk.Mid() != 0 {
			t.Error("Mid should return 0 when ask is missing")
		}
	})

	t.Run("Safety: Zero Prices", func(t *testing.T) {
		tk := BookTicker{}
		if tk.Spread() != 0 || tk.Mid() != 0 {
			t.Error("zero ticker should report 0 spread and mid")
		}
	})
}
