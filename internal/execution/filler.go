package execution

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/domain"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/exchange"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/infra"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/pkg/book"
)

// Mode represents the trading execution mode.
type Mode string

const (
	ModeSim  Mode = "SIM"  // instant local fills
	ModeMass Mode = "MASS" // probabilistic fills for mass testing
	ModeLive Mode = "LIVE" // real venue orders
)

// ParseMode normalizes and validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToUpper(s)); m {
	case ModeSim, ModeMass, ModeLive:
		return m, nil
	default:
		return "", fmt.Errorf("unknown execution mode: %s", s)
	}
}

// RandSource is the random surface the fillers draw from. *rand.Rand
// satisfies it; tests script the draws.
type RandSource interface {
	Float64() float64
}

func uniform(r RandSource, lo, hi float64) float64 {
	return lo + (hi-lo)*r.Float64()
}

// OrderClient is the venue order surface the live path needs.
// Implemented by exchange.Client.
type OrderClient interface {
	CreateOrder(ctx context.Context, symbol string, side domain.Side, qty, price float64) (*exchange.OrderRecord, error)
	FetchOrder(ctx context.Context, symbol, orderID string) (*exchange.OrderRecord, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
}

// Filler advances orders toward completion in a mode-specific way.
// One filler serves one order lifecycle at a time.
type Filler interface {
	// Mode identifies the execution behavior.
	Mode() Mode
	// PrepareOpen adjusts an order before it is opened.
	PrepareOpen(order *domain.Order)
	// Tick advances the order one monitoring pass. A non-nil Fill
	// reports newly filled quantity; (nil, nil) means no progress.
	Tick(ctx context.Context, order *domain.Order, snap book.Snapshot) (*domain.Fill, error)
	// Latency is how long the monitor sleeps before the next pass.
	Latency(pending int) time.Duration
	// AutoAdjust proposes a reprice for a resting order, or nil.
	AutoAdjust(order *domain.Order, snap book.Snapshot) *domain.Adjust
}

// NewFiller returns the filler for mode. client may be nil outside
// LIVE; r may be nil to use a time-seeded source.
func NewFiller(mode Mode, cfg *infra.Config, client OrderClient, r RandSource) (Filler, error) {
	slog.Info("Initializing execution filler", "mode", mode)

	switch mode {
	case ModeSim:
		return NewSimFiller(), nil

	case ModeMass:
		if r == nil {
			seed := cfg.Sim.Seed
			if seed == 0 {
				seed = time.Now().UnixNano()
			}
			r = rand.New(rand.NewSource(seed))
		}
		return NewMassFiller(MassParamsFromConfig(cfg), r), nil

	case ModeLive:
		// Safety latch: live trading moves real money and must be
		// armed explicitly on top of having API keys configured.
		if os.Getenv("CONFIRM_REAL_MONEY") != "true" {
			return nil, fmt.Errorf("SAFETY_GUARD: live trading requires CONFIRM_REAL_MONEY=true environment variable")
		}
		if client == nil {
			return nil, fmt.Errorf("live mode requires an exchange client")
		}
		slog.Warn("🚨 LIVE execution armed, orders will reach the venue")
		return NewLiveFiller(client), nil

	default:
		return nil, fmt.Errorf("unknown execution mode: %s", mode)
	}
}
