package domain

import "time"

// BotStats summarizes one bot's run over one mass-test cycle.
type BotStats struct {
	BotID   string        `json:"bot_id"`
	Cycle   int           `json:"cycle"`
	Orders  int           `json:"orders"`
	Fills   int           `json:"fills"`
	PnL     float64       `json:"pnl"`
	PnLPct  float64       `json:"pnl_pct"`
	Wins    int           `json:"wins"`
	Losses  int           `json:"losses"`
	Runtime time.Duration `json:"runtime_ns"`
}

// RecordTrade folds one closed round trip into the tally.
func (s *BotStats) RecordTrade(pnl float64) {
	s.PnL += pnl
	if pnl >= 0 {
		s.Wins++
	} else {
		s.Losses++
	}
}
