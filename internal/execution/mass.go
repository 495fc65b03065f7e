package execution

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/domain"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/infra"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/pkg/book"
)

// MassParams tunes the probabilistic fill model.
//
//	alpha  base fill probability at the touch
//	beta   decay per tick of distance from the same-side best
//	gamma  global aggressiveness, scales probability and fill size
type MassParams struct {
	Alpha             float64
	Beta              float64
	Gamma             float64
	BaseLatency       time.Duration
	OverloadThreshold int
}

// DefaultMassParams returns the calibrated model constants.
func DefaultMassParams() MassParams {
	return MassParams{
		Alpha:             0.6,
		Beta:              0.9,
		Gamma:             1.0,
		BaseLatency:       250 * time.Millisecond,
		OverloadThreshold: 5,
	}
}

// MassParamsFromConfig maps the sim config section onto model params.
func MassParamsFromConfig(cfg *infra.Config) MassParams {
	return MassParams{
		Alpha:             cfg.Sim.Alpha,
		Beta:              cfg.Sim.Beta,
		Gamma:             cfg.Sim.Gamma,
		BaseLatency:       time.Duration(cfg.Sim.BaseLatencyMS) * time.Millisecond,
		OverloadThreshold: cfg.Sim.OverloadThreshold,
	}
}

// MassFiller simulates partial fills against the live book. Fill
// probability decays with distance from the same-side best price and
// scales with the opposing/same volume ratio; fill size scales with
// opposing liquidity. When a BUY completes it stages a chained SELL
// draft at the opposing best so mass cycles exit their position.
type MassFiller struct {
	params MassParams

	mu      sync.Mutex
	rand    RandSource
	chained *domain.Order
}

// NewMassFiller creates a filler with the given model params and
// random source.
func NewMassFiller(params MassParams, r RandSource) *MassFiller {
	return &MassFiller{params: params, rand: r}
}

func (f *MassFiller) Mode() Mode { return ModeMass }

func (f *MassFiller) PrepareOpen(order *domain.Order) {}

func (f *MassFiller) Tick(ctx context.Context, order *domain.Order, snap book.Snapshot) (*domain.Fill, error) {
	remaining := order.Remaining()
	if remaining <= 0 {
		return nil, nil
	}

	bid, okBid := snap.BestBid()
	ask, okAsk := snap.BestAsk()
	if !okBid || !okAsk {
		// No liquidity to model against.
		return nil, nil
	}

	tick := snap.TickSize
	if tick <= 0 {
		tick = 1.0
	}

	var sameBest, sameVol, oppVol float64
	if order.Side == domain.SideBuy {
		sameBest, sameVol = bid.Price, bid.Qty
		oppVol = ask.Qty
	} else {
		sameBest, sameVol = ask.Price, ask.Qty
		oppVol = bid.Qty
	}

	ticksAway := math.Abs(order.Price-sameBest) / tick
	boost := oppVol / (sameVol + 1e-9)
	p := f.params.Gamma * f.params.Alpha * math.Exp(-f.params.Beta*ticksAway) * boost
	p = math.Max(0, math.Min(p, 0.85))

	f.mu.Lock()
	draw := f.rand.Float64()
	if draw >= p {
		f.mu.Unlock()
		return nil, nil
	}
	sizeFactor := uniform(f.rand, 0.05, 0.35)
	f.mu.Unlock()

	liqRatio := math.Min(1.0, oppVol/(remaining+1e-9))
	qty := sizeFactor * remaining * liqRatio * f.params.Gamma
	qty = math.Min(qty, remaining)

	applied := order.RecordFill(qty)
	if applied <= 0 {
		return nil, nil
	}

	if order.Status == domain.StatusFilled && order.Side == domain.SideBuy {
		f.stageChained(order, ask.Price)
	}

	return &domain.Fill{
		Qty:       applied,
		Executed:  order.Filled,
		Remaining: order.Remaining(),
		Price:     order.Price,
		Reason:    "sim_mass",
	}, nil
}

func (f *MassFiller) Latency(pending int) time.Duration {
	f.mu.Lock()
	jitter := uniform(f.rand, 0.8, 1.3)
	f.mu.Unlock()

	overload := float64(max(0, pending-f.params.OverloadThreshold))
	return time.Duration(float64(f.params.BaseLatency) * jitter * (1 + 0.05*overload))
}

func (f *MassFiller) AutoAdjust(order *domain.Order, snap book.Snapshot) *domain.Adjust {
	return nil
}

// stageChained drafts the exit SELL for a completed BUY.
func (f *MassFiller) stageChained(buy *domain.Order, exitPrice float64) {
	draft := &domain.Order{
		Symbol: buy.Symbol,
		Side:   domain.SideSell,
		Type:   buy.Type,
		Price:  exitPrice,
		Amount: buy.Filled,
		Mode:   string(ModeMass),
	}

	f.mu.Lock()
	f.chained = draft
	f.mu.Unlock()
}

// TakeChained hands the staged exit draft to the caller exactly once.
func (f *MassFiller) TakeChained() *domain.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.chained
	f.chained = nil
	return d
}
