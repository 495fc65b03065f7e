// Package scoring ranks symbols on a weighted 0..100 scale combining
// multi-frame trend, order-book pressure, trade flow, momentum, depth
// and penalties for wide spreads and micro-volatility. The heaviest
// weight goes to the weekly trend, the lightest to the penalties.
package scoring

import "math"

// Features are the raw inputs for one symbol. Percent fields are plain
// percentages (5.0 == +5%). TradeFlowBuyRatio is the share of recent
// taker volume that was buying; pass 0.5 when unknown.
type Features struct {
	TrendWeekPct   float64
	TrendDayPct    float64
	TrendHourPct   float64
	TrendMinutePct float64

	PctChangeWindow float64 // momentum window, percent

	BestBidQty float64
	BestAskQty float64
	DepthBuy   float64
	DepthSell  float64

	TradeFlowBuyRatio float64
	MicroVolatility   float64

	SpreadAbs float64
	Mid       float64
}

// Weights control the relative importance of each component. They are
// applied to normalized [0,1] component values, so a weight set summing
// to 100 yields scores on the 0..100 scale.
type Weights struct {
	TrendWeek   float64
	TrendDay    float64
	Pressure    float64
	Flow        float64
	TrendHour   float64
	Depth       float64
	TrendMinute float64
	Momentum    float64
	Spread      float64
	MicroVol    float64
}

// DefaultWeights returns the standard weight set (sums to 100).
func DefaultWeights() Weights {
	return Weights{
		TrendWeek:   25,
		TrendDay:    20,
		Pressure:    15,
		Flow:        12,
		TrendHour:   10,
		Depth:       8,
		TrendMinute: 5,
		Momentum:    3,
		Spread:      1,
		MicroVol:    1,
	}
}

// Breakdown exposes each normalized component in [0,1] before
// weighting, for audit records and debugging.
type Breakdown struct {
	TrendWeek   float64
	TrendDay    float64
	TrendHour   float64
	TrendMinute float64
	Pressure    float64
	Flow        float64
	Depth       float64
	Momentum    float64
	Spread      float64
	MicroVol    float64
}

// Score computes the weighted score with the default weights.
func Score(f Features) float64 {
	s, _ := ScoreWithWeights(f, DefaultWeights())
	return s
}

// ScoreWithWeights computes the score and returns the per-component
// breakdown. The result is clamped to [0,100].
func ScoreWithWeights(f Features, w Weights) (float64, Breakdown) {
	b := Breakdown{
		TrendWeek:   normTrend(f.TrendWeekPct),
		TrendDay:    normTrend(f.TrendDayPct),
		TrendHour:   normTrend(f.TrendHourPct),
		TrendMinute: normTrend(f.TrendMinutePct),
		Momentum:    clamp(math.Abs(f.PctChangeWindow)/2.0, 0, 1),
	}

	depth := math.Max(0, f.DepthBuy+f.DepthSell)
	b.Depth = math.Log10(1.0+depth) / 6.0

	pressureRaw := f.BestBidQty / nz(f.BestBidQty+f.BestAskQty)
	b.Pressure = clamp(math.Abs(pressureRaw-0.5)*2.0, 0, 1)

	b.Flow = clamp(math.Abs(f.TradeFlowBuyRatio-0.5)*2.0, 0, 1)

	b.MicroVol = 1.0 / (1.0 + 50.0*f.MicroVolatility)

	// Spread is measured in synthetic ticks derived from the mid price
	// so the penalty is scale-free across symbols.
	tick := math.Max(math.Abs(f.Mid)*1e-6, 1e-8)
	b.Spread = 1.0 / (1.0 + f.SpreadAbs/nz(tick))

	score := b.TrendWeek*w.TrendWeek +
		b.TrendDay*w.TrendDay +
		b.Pressure*w.Pressure +
		b.Flow*w.Flow +
		b.TrendHour*w.TrendHour +
		b.Depth*w.Depth +
		b.TrendMinute*w.TrendMinute +
		b.Momentum*w.Momentum +
		b.Spread*w.Spread +
		b.MicroVol*w.MicroVol

	return clamp(score, 0, 100), b
}

// normTrend maps a percent change to [0,1] with 0% at the midpoint and
// saturation at ±20%.
func normTrend(pct float64) float64 {
	return 0.5 + 0.5*clamp(pct/20.0, -1, 1)
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

// nz guards divisions against zero denominators.
func nz(x float64) float64 {
	if math.Abs(x) > 1e-12 {
		return x
	}
	return 1e-12
}
