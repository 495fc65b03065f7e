package execution

import (
	"context"
	"time"

	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/domain"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/pkg/book"
)

// simLatency keeps SIM monitoring fast without a hot spin.
const simLatency = 50 * time.Millisecond

// SimFiller fills the whole remaining amount on the first monitoring
// pass. SIM runs validate plumbing end to end, not microstructure.
type SimFiller struct{}

// NewSimFiller creates a SIM filler.
func NewSimFiller() *SimFiller { return &SimFiller{} }

func (f *SimFiller) Mode() Mode { return ModeSim }

func (f *SimFiller) PrepareOpen(order *domain.Order) {}

func (f *SimFiller) Tick(ctx context.Context, order *domain.Order, snap book.Snapshot) (*domain.Fill, error) {
	remaining := order.Remaining()
	if remaining <= 0 {
		return nil, nil
	}

	applied := order.RecordFill(remaining)
	if applied <= 0 {
		return nil, nil
	}
	return &domain.Fill{
		Qty:       applied,
		Executed:  order.Filled,
		Remaining: order.Remaining(),
		Price:     order.Price,
		Reason:    "sim",
	}, nil
}

func (f *SimFiller) Latency(pending int) time.Duration { return simLatency }

func (f *SimFiller) AutoAdjust(order *domain.Order, snap book.Snapshot) *domain.Adjust {
	return nil
}
