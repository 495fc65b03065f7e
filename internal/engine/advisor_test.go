package engine

import (
	"context"
	"testing"

	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/domain"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/strategy"
)

func TestHeuristicAdvisorGatesAndSizes(t *testing.T) {
	obs := ObservationSet{Observations: []Observation{
		{Symbol: "AAAUSDT", Score: 90, EdgeBps: 30, BestBid: 50},
		{Symbol: "BBBUSDT", Score: 80, EdgeBps: 1, BestBid: 10},  // edge too thin
		{Symbol: "CCCUSDT", Score: 40, EdgeBps: 30, BestBid: 10}, // score too low
		{Symbol: "DDDUSDT", Score: 75, EdgeBps: 25, BestBid: 0},  // empty bid side
		{Symbol: "EEEUSDT", Score: 72, EdgeBps: 20, BestBid: 25},
	}}
	params := strategy.Defaults()
	params.TradeSizeUSD = 100

	adv := NewHeuristicAdvisor(70, 10, 5)
	actions, err := adv.ProposeActions(context.Background(), obs, params)
	if err != nil {
		t.Fatalf("ProposeActions() error = %v", err)
	}

	if len(actions) != 2 {
		t.Fatalf("actions = %d, want 2 (gated candidates skipped)", len(actions))
	}
	for _, a := range actions {
		if a.Type != domain.ActionPlaceLimitBuy {
			t.Errorf("action type = %v, want PLACE_LIMIT_BUY", a.Type)
		}
		if a.ID == "" {
			t.Error("action missing ID")
		}
	}
	if actions[0].Symbol != "AAAUSDT" || actions[1].Symbol != "EEEUSDT" {
		t.Errorf("symbols = %s,%s, want AAAUSDT,EEEUSDT", actions[0].Symbol, actions[1].Symbol)
	}
	if got, want := actions[0].Qty, 100.0/50; got != want {
		t.Errorf("qty = %v, want %v (trade size over best bid)", got, want)
	}
	if actions[0].Price != 50 {
		t.Errorf("price = %v, want best bid 50", actions[0].Price)
	}
}

func TestHeuristicAdvisorCapsProposals(t *testing.T) {
	obs := ObservationSet{Observations: []Observation{
		{Symbol: "AAAUSDT", Score: 90, EdgeBps: 30, BestBid: 50},
		{Symbol: "BBBUSDT", Score: 85, EdgeBps: 30, BestBid: 50},
		{Symbol: "CCCUSDT", Score: 80, EdgeBps: 30, BestBid: 50},
	}}

	adv := NewHeuristicAdvisor(0, 0, 2)
	actions, err := adv.ProposeActions(context.Background(), obs, strategy.Defaults())
	if err != nil {
		t.Fatalf("ProposeActions() error = %v", err)
	}
	if len(actions) != 2 {
		t.Errorf("actions = %d, want cap of 2", len(actions))
	}

	// <=0 collapses to a single proposal.
	one := NewHeuristicAdvisor(0, 0, 0)
	actions, _ = one.ProposeActions(context.Background(), obs, strategy.Defaults())
	if len(actions) != 1 {
		t.Errorf("actions = %d, want 1 when cap is unset", len(actions))
	}
}

func TestHeuristicAdvisorHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	adv := NewHeuristicAdvisor(0, 0, 1)
	if _, err := adv.ProposeActions(ctx, ObservationSet{}, strategy.Defaults()); err == nil {
		t.Error("ProposeActions() with canceled context = nil error, want ctx error")
	}
}

func TestMidWindowPctChangeAndMicroVol(t *testing.T) {
	var w midWindow
	if got := w.pctChange(); got != 0 {
		t.Errorf("pctChange empty = %v, want 0", got)
	}

	w.push(100)
	w.push(101)
	w.push(102)
	if got, want := w.pctChange(), 2.0; !almostEq(got, want) {
		t.Errorf("pctChange = %v, want %v", got, want)
	}
	if got := w.microVol(); got <= 0 {
		t.Errorf("microVol with moving mids = %v, want > 0", got)
	}

	// A flat series has no per-step dispersion.
	flat := midWindow{}
	for i := 0; i < 5; i++ {
		flat.push(100)
	}
	if got := flat.microVol(); got != 0 {
		t.Errorf("microVol flat = %v, want 0", got)
	}

	// Window is bounded; the oldest mids roll off.
	roll := midWindow{}
	for i := 0; i < midWindowSize+10; i++ {
		roll.push(float64(100 + i))
	}
	if len(roll.mids) != midWindowSize {
		t.Errorf("window length = %d, want %d", len(roll.mids), midWindowSize)
	}
}
