package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/domain"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/strategy"
)

// Advisor proposes trading actions for one cycle. Implementations may
// be local heuristics or remote oracles; either way every proposal
// passes the engine's validation before execution.
type Advisor interface {
	ProposeActions(ctx context.Context, obs ObservationSet, params strategy.Params) ([]domain.Action, error)
}

// HeuristicAdvisor is the shipped advisor: it buys the best-scoring
// candidates at the top of the bid queue when the score clears MinScore
// and the estimated edge covers fees plus the opportunity threshold.
type HeuristicAdvisor struct {
	MinScore float64
	EdgeBps  float64 // minimum estimated edge, basis points
	MaxBuys  int     // proposals per cycle, <=0 means 1
}

// NewHeuristicAdvisor creates an advisor with the given gates.
func NewHeuristicAdvisor(minScore, edgeBps float64, maxBuys int) *HeuristicAdvisor {
	if maxBuys <= 0 {
		maxBuys = 1
	}
	return &HeuristicAdvisor{MinScore: minScore, EdgeBps: edgeBps, MaxBuys: maxBuys}
}

// ProposeActions scans observations best-first and drafts limit buys at
// the best bid for the configured trade size.
func (a *HeuristicAdvisor) ProposeActions(ctx context.Context, obs ObservationSet, params strategy.Params) ([]domain.Action, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var actions []domain.Action
	for _, o := range obs.Observations {
		if len(actions) >= a.MaxBuys {
			break
		}
		if o.Score < a.MinScore || o.EdgeBps < a.EdgeBps {
			continue
		}
		if o.BestBid <= 0 {
			continue
		}

		qty := params.TradeSizeUSD / o.BestBid
		if qty <= 0 {
			continue
		}
		actions = append(actions, domain.Action{
			ID:     uuid.NewString(),
			Type:   domain.ActionPlaceLimitBuy,
			Symbol: o.Symbol,
			Price:  o.BestBid,
			Qty:    qty,
			Reason: fmt.Sprintf("score=%.1f edge=%.1fbps", o.Score, o.EdgeBps),
		})
	}
	return actions, nil
}
