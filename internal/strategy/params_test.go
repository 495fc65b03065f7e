package strategy

import (
	"math/rand"
	"reflect"
	"sync"
	"testing"
)

func TestApplyMutationsTyped(t *testing.T) {
	base := Defaults()

	got, ignored := ApplyMutations(base, map[string]any{
		"trade_size_usd": 250.0,
		"sell_ticks":     3,
		"tick_size":      0.01,
		"universe":       []any{"SOLUSDT", "XRPUSDT"},
	})

	if len(ignored) != 0 {
		t.Fatalf("unexpected ignored keys: %v", ignored)
	}
	if got.TradeSizeUSD != 250.0 {
		t.Errorf("TradeSizeUSD = %v, want 250", got.TradeSizeUSD)
	}
	if got.SellTicks != 3 {
		t.Errorf("SellTicks = %d, want 3", got.SellTicks)
	}
	if got.TickSize != 0.01 {
		t.Errorf("TickSize = %v, want 0.01", got.TickSize)
	}
	if want := []string{"SOLUSDT", "XRPUSDT"}; !reflect.DeepEqual(got.Universe, want) {
		t.Errorf("Universe = %v, want %v", got.Universe, want)
	}

	// Base must be untouched.
	if base.TradeSizeUSD != 500.0 || base.SellTicks != 1 {
		t.Errorf("base params mutated: %+v", base)
	}
}

func TestApplyMutationsUnknownAndBadKeys(t *testing.T) {
	tests := []struct {
		name      string
		mutations map[string]any
		ignored   int
	}{
		{"unknown key", map[string]any{"warp_factor": 9}, 1},
		{"bad type", map[string]any{"trade_size_usd": "lots"}, 1},
		{"fractional ticks", map[string]any{"sell_ticks": 2.5}, 1},
		{"empty universe", map[string]any{"universe": []any{}}, 1},
		{"non-string universe", map[string]any{"universe": []any{"BTCUSDT", 7}}, 1},
		{"negative tick size", map[string]any{"tick_size": -0.1}, 1},
		{"mixed", map[string]any{"sell_ticks": 2, "bogus": true}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ignored := ApplyMutations(Defaults(), tt.mutations)
			if len(ignored) != tt.ignored {
				t.Fatalf("ignored = %v, want %d entries", ignored, tt.ignored)
			}
			// A rejected key must leave the field at its default.
			if _, ok := tt.mutations["trade_size_usd"]; ok && got.TradeSizeUSD != 500.0 {
				t.Errorf("rejected mutation leaked: TradeSizeUSD = %v", got.TradeSizeUSD)
			}
		})
	}
}

func TestApplyMutationsBounds(t *testing.T) {
	got, _ := ApplyMutations(Defaults(), map[string]any{
		"trade_size_usd": 1e9,
		"sell_ticks":     1000,
	})
	if got.TradeSizeUSD != maxTradeSizeUSD {
		t.Errorf("TradeSizeUSD = %v, want clamp to %v", got.TradeSizeUSD, maxTradeSizeUSD)
	}
	if got.SellTicks != maxSellTicks {
		t.Errorf("SellTicks = %d, want clamp to %d", got.SellTicks, maxSellTicks)
	}

	got, _ = ApplyMutations(Defaults(), map[string]any{
		"trade_size_usd": 0.5,
		"sell_ticks":     0,
	})
	if got.TradeSizeUSD != minTradeSizeUSD {
		t.Errorf("TradeSizeUSD = %v, want clamp to %v", got.TradeSizeUSD, minTradeSizeUSD)
	}
	if got.SellTicks != minSellTicks {
		t.Errorf("SellTicks = %d, want clamp to %d", got.SellTicks, minSellTicks)
	}
}

func TestApplyMutationsAcceptsLegacyOrderSizeKey(t *testing.T) {
	got, ignored := ApplyMutations(Defaults(), map[string]any{"order_size_usd": 75.0})
	if len(ignored) != 0 {
		t.Fatalf("ignored = %v", ignored)
	}
	if got.TradeSizeUSD != 75.0 {
		t.Errorf("TradeSizeUSD = %v, want 75", got.TradeSizeUSD)
	}
}

func TestRandomMutationsDeterministic(t *testing.T) {
	a := RandomMutations(rand.New(rand.NewSource(42)))
	b := RandomMutations(rand.New(rand.NewSource(42)))
	if !reflect.DeepEqual(a, b) {
		t.Errorf("same seed produced different mutations:\n%v\n%v", a, b)
	}

	// Mutations must survive a round trip through ApplyMutations.
	got, ignored := ApplyMutations(Defaults(), a)
	if len(ignored) != 0 {
		t.Errorf("RandomMutations produced rejected keys: %v", ignored)
	}
	if got.TradeSizeUSD < minTradeSizeUSD || got.TradeSizeUSD > maxTradeSizeUSD {
		t.Errorf("TradeSizeUSD out of bounds: %v", got.TradeSizeUSD)
	}
}

func TestHolderSwapAndLoad(t *testing.T) {
	h := NewHolder(Defaults())

	p := h.Load()
	p.TradeSizeUSD = 42.0
	p.Universe[0] = "DOGEUSDT"
	if h.Load().TradeSizeUSD == 42.0 {
		t.Error("Load must return an independent copy")
	}
	if h.Load().Universe[0] == "DOGEUSDT" {
		t.Error("Load must not alias the universe slice")
	}

	next, _ := ApplyMutations(h.Load(), map[string]any{"sell_ticks": 4})
	h.Swap(next)
	if got := h.Load().SellTicks; got != 4 {
		t.Errorf("SellTicks after swap = %d, want 4", got)
	}
}

func TestHolderConcurrentAccess(t *testing.T) {
	h := NewHolder(Defaults())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			p := h.Load()
			p.SellTicks = n
			h.Swap(p)
		}(i + 1)
		go func() {
			defer wg.Done()
			_ = h.Load()
		}()
	}
	wg.Wait()

	got := h.Load()
	if got.SellTicks < 1 || got.SellTicks > 8 {
		t.Errorf("SellTicks = %d, want one of the swapped values", got.SellTicks)
	}
}
