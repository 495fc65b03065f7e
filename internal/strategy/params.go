package strategy

import (
	"fmt"
	"math/rand"
	"slices"
	"sync"
)

// Params are the tunable knobs of a bot. Every field is a concrete typed
// value; mutations arrive as loose key/value maps (e.g. from an external
// advisor) and are mapped onto these fields with bounds checking.
type Params struct {
	// TradeSizeUSD is the notional size of each limit order.
	TradeSizeUSD float64

	// TickSize is the fallback price increment used when exchange
	// metadata is unavailable for a symbol.
	TickSize float64

	// SellTicks is how many ticks above the buy price the exit order
	// is placed.
	SellTicks int

	// Universe is the candidate symbol list. Empty means the engine
	// discovers symbols by quote asset.
	Universe []string
}

// Bounds applied by ApplyMutations. Values outside these are clamped.
const (
	minTradeSizeUSD = 10.0
	maxTradeSizeUSD = 100_000.0
	minSellTicks    = 1
	maxSellTicks    = 50
)

// Defaults returns the baseline parameter set used when no mutations
// have been applied yet.
func Defaults() Params {
	return Params{
		TradeSizeUSD: 500.0,
		TickSize:     0.1,
		SellTicks:    1,
		Universe:     []string{"BTCUSDT", "ETHUSDT", "BNBUSDT"},
	}
}

// Clone returns a deep copy so that callers can mutate the result
// without aliasing the Universe slice.
func (p Params) Clone() Params {
	out := p
	out.Universe = slices.Clone(p.Universe)
	return out
}

// ApplyMutations maps a loose mutation dictionary onto a typed Params
// value. Known keys are coerced and bounds-checked; unknown or
// badly-typed keys are skipped and returned so the caller can log them.
// The input Params is not modified.
func ApplyMutations(base Params, mutations map[string]any) (Params, []string) {
	out := base.Clone()
	if len(mutations) == 0 {
		return out, nil
	}

	var ignored []string
	for key, raw := range mutations {
		switch key {
		case "trade_size_usd", "order_size_usd":
			v, ok := toFloat(raw)
			if !ok {
				ignored = append(ignored, badValue(key, raw))
				continue
			}
			out.TradeSizeUSD = clampFloat(v, minTradeSizeUSD, maxTradeSizeUSD)

		case "tick_size":
			v, ok := toFloat(raw)
			if !ok || v <= 0 {
				ignored = append(ignored, badValue(key, raw))
				continue
			}
			out.TickSize = v

		case "sell_ticks":
			v, ok := toInt(raw)
			if !ok {
				ignored = append(ignored, badValue(key, raw))
				continue
			}
			out.SellTicks = clampInt(v, minSellTicks, maxSellTicks)

		case "universe":
			syms, ok := toStringSlice(raw)
			if !ok || len(syms) == 0 {
				ignored = append(ignored, badValue(key, raw))
				continue
			}
			out.Universe = syms

		default:
			ignored = append(ignored, key)
		}
	}
	slices.Sort(ignored)
	return out, ignored
}

// RandomMutations produces a randomized mutation set for mass testing.
// Deterministic for a given rand source.
func RandomMutations(r *rand.Rand) map[string]any {
	m := map[string]any{
		"trade_size_usd": 50.0 + r.Float64()*950.0,
		"sell_ticks":     1 + r.Intn(5),
	}
	// Occasionally shrink the universe to force concentration.
	if r.Float64() < 0.3 {
		base := Defaults().Universe
		n := 1 + r.Intn(len(base))
		picked := slices.Clone(base)
		r.Shuffle(len(picked), func(i, j int) { picked[i], picked[j] = picked[j], picked[i] })
		m["universe"] = picked[:n]
	}
	return m
}

// Holder provides lock-protected hot swapping of the active parameter
// set. Readers get an independent copy; writers replace the whole value
// atomically.
type Holder struct {
	mu     sync.RWMutex
	params Params
}

// NewHolder creates a Holder seeded with the given parameters.
func NewHolder(p Params) *Holder {
	return &Holder{params: p.Clone()}
}

// Load returns a copy of the current parameters.
func (h *Holder) Load() Params {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.params.Clone()
}

// Swap replaces the active parameters.
func (h *Holder) Swap(p Params) {
	h.mu.Lock()
	h.params = p.Clone()
	h.mu.Unlock()
}

func badValue(key string, raw any) string {
	return fmt.Sprintf("%s=%v", key, raw)
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func toInt(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		// JSON numbers decode as float64; accept whole values only.
		if v == float64(int(v)) {
			return int(v), true
		}
		return 0, false
	default:
		return 0, false
	}
}

func toStringSlice(raw any) ([]string, bool) {
	switch v := raw.(type) {
	case []string:
		return slices.Clone(v), true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok || s == "" {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
