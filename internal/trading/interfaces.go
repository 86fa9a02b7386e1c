package trading

import (
	"context"
	"errors"

	"github.com/songzhibin97/quantaguard/internal/models"
)

// ErrBackendUnavailable is returned when no backend is configured for an action.
var ErrBackendUnavailable = errors.New("execution backend unavailable")

// SpotTrader 现货兑换
type SpotTrader interface {
	Swap(ctx context.Context, p models.SpotSwapParams) (*models.TradeResult, error)
}

// LeveragedTrader 杠杆仓位。交易所是仓位实时状态的唯一来源。
type LeveragedTrader interface {
	OpenPosition(ctx context.Context, p models.OpenLeveragedParams) (*models.TradeResult, error)
	ClosePosition(ctx context.Context, p models.CloseLeveragedParams) (*models.TradeResult, error)
	AdjustPosition(ctx context.Context, p models.AdjustLeveragedParams) (*models.TradeResult, error)

	// OpenPositions lists live positions with current price and unrealized P&L
	OpenPositions(ctx context.Context) ([]models.PerpPosition, error)
}

// LiquidityManager 流动性仓位
type LiquidityManager interface {
	AddLiquidity(ctx context.Context, p models.AddLiquidityParams) (*models.TradeResult, error)
	ClaimFees(ctx context.Context) (*models.TradeResult, error)
	LPPositions(ctx context.Context) ([]models.LPPosition, error)
}

// Ledger is the base-currency wallet that receives claimed fees and pays distributions.
type Ledger interface {
	Address() string
	Balance(ctx context.Context) (float64, error)
	Transfer(ctx context.Context, to string, amount float64) (*models.TradeResult, error)
}
