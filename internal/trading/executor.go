package trading

import (
	"context"
	"fmt"

	"github.com/songzhibin97/quantaguard/internal/models"
)

// Backends groups the capabilities a deployment provides. Any of them may be nil.
type Backends struct {
	Spot      SpotTrader
	Leveraged LeveragedTrader
	Liquidity LiquidityManager
	Ledger    Ledger
}

// Execute dispatches decision to the matching backend. HOLD makes no external call.
// A nil backend for the action returns ErrBackendUnavailable.
func (b Backends) Execute(ctx context.Context, decision models.TradeDecision) (*models.TradeResult, error) {
	switch p := decision.Params.(type) {
	case nil:
		if decision.Action == models.ActionHold {
			return &models.TradeResult{Success: true}, nil
		}
	case models.SpotSwapParams:
		if b.Spot == nil {
			return nil, fmt.Errorf("%w: spot", ErrBackendUnavailable)
		}
		return b.Spot.Swap(ctx, p)
	case models.OpenLeveragedParams:
		if b.Leveraged == nil {
			return nil, fmt.Errorf("%w: leveraged", ErrBackendUnavailable)
		}
		return b.Leveraged.OpenPosition(ctx, p)
	case models.CloseLeveragedParams:
		if b.Leveraged == nil {
			return nil, fmt.Errorf("%w: leveraged", ErrBackendUnavailable)
		}
		return b.Leveraged.ClosePosition(ctx, p)
	case models.AdjustLeveragedParams:
		if b.Leveraged == nil {
			return nil, fmt.Errorf("%w: leveraged", ErrBackendUnavailable)
		}
		return b.Leveraged.AdjustPosition(ctx, p)
	case models.AddLiquidityParams:
		if b.Liquidity == nil {
			return nil, fmt.Errorf("%w: liquidity", ErrBackendUnavailable)
		}
		return b.Liquidity.AddLiquidity(ctx, p)
	}
	return nil, fmt.Errorf("no dispatch for action %s with params %T", decision.Action, decision.Params)
}
