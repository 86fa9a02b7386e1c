package trading

import (
	"context"

	"go.uber.org/zap"

	"github.com/songzhibin97/quantaguard/internal/models"
)

// WithDryRun wraps every mutating call with a no-op that logs the intended action.
// Reads still reach the real backends.
func WithDryRun(b Backends, logger *zap.Logger) Backends {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("dry-run").With(zap.Bool("dry_run", true))

	out := Backends{}
	if b.Spot != nil {
		out.Spot = dryRunSpot{logger: logger}
	}
	if b.Leveraged != nil {
		out.Leveraged = dryRunLeveraged{inner: b.Leveraged, logger: logger}
	}
	if b.Liquidity != nil {
		out.Liquidity = dryRunLiquidity{inner: b.Liquidity, logger: logger}
	}
	if b.Ledger != nil {
		out.Ledger = dryRunLedger{inner: b.Ledger, logger: logger}
	}
	return out
}

func simulated() *models.TradeResult {
	return &models.TradeResult{Success: true, TxRef: "dry-run", DryRun: true}
}

type dryRunSpot struct {
	logger *zap.Logger
}

func (d dryRunSpot) Swap(_ context.Context, p models.SpotSwapParams) (*models.TradeResult, error) {
	d.logger.Info("would swap", zap.Any("params", p))
	return simulated(), nil
}

type dryRunLeveraged struct {
	inner  LeveragedTrader
	logger *zap.Logger
}

func (d dryRunLeveraged) OpenPosition(_ context.Context, p models.OpenLeveragedParams) (*models.TradeResult, error) {
	d.logger.Info("would open position", zap.Any("params", p))
	return simulated(), nil
}

func (d dryRunLeveraged) ClosePosition(_ context.Context, p models.CloseLeveragedParams) (*models.TradeResult, error) {
	d.logger.Info("would close position", zap.Any("params", p))
	return simulated(), nil
}

func (d dryRunLeveraged) AdjustPosition(_ context.Context, p models.AdjustLeveragedParams) (*models.TradeResult, error) {
	d.logger.Info("would adjust position", zap.Any("params", p))
	return simulated(), nil
}

func (d dryRunLeveraged) OpenPositions(ctx context.Context) ([]models.PerpPosition, error) {
	return d.inner.OpenPositions(ctx)
}

type dryRunLiquidity struct {
	inner  LiquidityManager
	logger *zap.Logger
}

func (d dryRunLiquidity) AddLiquidity(_ context.Context, p models.AddLiquidityParams) (*models.TradeResult, error) {
	d.logger.Info("would add liquidity", zap.Any("params", p))
	return simulated(), nil
}

func (d dryRunLiquidity) ClaimFees(context.Context) (*models.TradeResult, error) {
	d.logger.Info("would claim fees")
	return simulated(), nil
}

func (d dryRunLiquidity) LPPositions(ctx context.Context) ([]models.LPPosition, error) {
	return d.inner.LPPositions(ctx)
}

type dryRunLedger struct {
	inner  Ledger
	logger *zap.Logger
}

func (d dryRunLedger) Address() string { return d.inner.Address() }

func (d dryRunLedger) Balance(ctx context.Context) (float64, error) {
	return d.inner.Balance(ctx)
}

func (d dryRunLedger) Transfer(_ context.Context, to string, amount float64) (*models.TradeResult, error) {
	d.logger.Info("would transfer", zap.String("to", to), zap.Float64("amount", amount))
	return simulated(), nil
}
