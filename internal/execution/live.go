package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/domain"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/pkg/book"
)

// livePollInterval paces venue polling per open order.
const livePollInterval = time.Second

// LiveFiller mirrors the venue's view of an order onto the local one.
// It never invents progress: every change comes from FetchOrder.
type LiveFiller struct {
	client OrderClient
}

// NewLiveFiller creates a LIVE filler backed by client.
func NewLiveFiller(client OrderClient) *LiveFiller {
	return &LiveFiller{client: client}
}

func (f *LiveFiller) Mode() Mode { return ModeLive }

func (f *LiveFiller) PrepareOpen(order *domain.Order) {}

func (f *LiveFiller) Tick(ctx context.Context, order *domain.Order, snap book.Snapshot) (*domain.Fill, error) {
	rec, err := f.client.FetchOrder(ctx, order.Symbol, order.ID)
	if err != nil {
		return nil, fmt.Errorf("poll order %s: %w", order.ID, err)
	}

	prev := order.Filled
	venueFilled := rec.ExecutedQtyF()
	if venueFilled > prev {
		order.RecordFill(venueFilled - prev)
	}
	if avg := rec.AvgFillPrice(); avg > 0 {
		order.AvgPrice = avg
	}

	switch domain.Status(rec.Status) {
	case domain.StatusFilled:
		// The venue is source of truth for terminality; close any
		// rounding remainder locally.
		if rem := order.Remaining(); rem > 0 {
			order.RecordFill(rem)
		}
	case domain.StatusCanceled, domain.StatusRejected, domain.StatusExpired:
		if !order.Status.Terminal() {
			order.Status = domain.Status(rec.Status)
			order.UpdatedAt = time.Now()
		}
	}

	if venueFilled > prev && order.Status == domain.StatusPartiallyFilled {
		return &domain.Fill{
			Qty:       venueFilled - prev,
			Executed:  order.Filled,
			Remaining: order.Remaining(),
			Price:     order.Price,
			Reason:    "live",
		}, nil
	}
	return nil, nil
}

func (f *LiveFiller) Latency(pending int) time.Duration { return livePollInterval }

func (f *LiveFiller) AutoAdjust(order *domain.Order, snap book.Snapshot) *domain.Adjust {
	return nil
}
