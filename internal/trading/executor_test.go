package trading

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/songzhibin97/quantaguard/internal/models"
)

type mockSpot struct{ calls int }

func (m *mockSpot) Swap(context.Context, models.SpotSwapParams) (*models.TradeResult, error) {
	m.calls++
	return &models.TradeResult{Success: true, TxRef: "spot-1"}, nil
}

type mockLeveraged struct {
	opens, closes, adjusts int
	positions              []models.PerpPosition
}

func (m *mockLeveraged) OpenPosition(context.Context, models.OpenLeveragedParams) (*models.TradeResult, error) {
	m.opens++
	return &models.TradeResult{Success: true, TxRef: "open-1"}, nil
}

func (m *mockLeveraged) ClosePosition(context.Context, models.CloseLeveragedParams) (*models.TradeResult, error) {
	m.closes++
	return &models.TradeResult{Success: true, TxRef: "close-1"}, nil
}

func (m *mockLeveraged) AdjustPosition(context.Context, models.AdjustLeveragedParams) (*models.TradeResult, error) {
	m.adjusts++
	return &models.TradeResult{Success: true, TxRef: "adjust-1"}, nil
}

func (m *mockLeveraged) OpenPositions(context.Context) ([]models.PerpPosition, error) {
	return m.positions, nil
}

type mockLedger struct {
	balance   float64
	transfers int
}

func (m *mockLedger) Address() string { return "0xledger" }

func (m *mockLedger) Balance(context.Context) (float64, error) { return m.balance, nil }

func (m *mockLedger) Transfer(context.Context, string, float64) (*models.TradeResult, error) {
	m.transfers++
	return &models.TradeResult{Success: true, TxRef: "0xtx"}, nil
}

func TestBackends_Execute(t *testing.T) {
	spot := &mockSpot{}
	lev := &mockLeveraged{}
	b := Backends{Spot: spot, Leveraged: lev}
	ctx := context.Background()
	stop := 90.0

	res, err := b.Execute(ctx, models.Hold("wait"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Zero(t, spot.calls+lev.opens+lev.closes+lev.adjusts)

	res, err = b.Execute(ctx, models.TradeDecision{Action: models.ActionSpotSwap, Params: models.SpotSwapParams{Amount: 1}})
	require.NoError(t, err)
	assert.Equal(t, "spot-1", res.TxRef)

	_, err = b.Execute(ctx, models.TradeDecision{Action: models.ActionOpenLeveraged, Params: models.OpenLeveragedParams{StopLossPrice: &stop}})
	require.NoError(t, err)
	_, err = b.Execute(ctx, models.TradeDecision{Action: models.ActionCloseLeveraged, Params: models.CloseLeveragedParams{Market: "BTCUSDT"}})
	require.NoError(t, err)
	_, err = b.Execute(ctx, models.TradeDecision{Action: models.ActionAdjustLeveraged, Params: models.AdjustLeveragedParams{Market: "BTCUSDT"}})
	require.NoError(t, err)
	assert.Equal(t, 1, lev.opens)
	assert.Equal(t, 1, lev.closes)
	assert.Equal(t, 1, lev.adjusts)

	_, err = b.Execute(ctx, models.TradeDecision{Action: models.ActionAddLiquidity, Params: models.AddLiquidityParams{PoolAddress: "0xpool"}})
	assert.True(t, errors.Is(err, ErrBackendUnavailable))

	_, err = b.Execute(ctx, models.TradeDecision{Action: models.ActionSpotSwap})
	assert.Error(t, err)
}

func TestWithDryRun(t *testing.T) {
	spot := &mockSpot{}
	lev := &mockLeveraged{positions: []models.PerpPosition{{PositionID: "BTCUSDT:long"}}}
	ledger := &mockLedger{balance: 3}
	b := WithDryRun(Backends{Spot: spot, Leveraged: lev, Ledger: ledger}, zap.NewNop())
	ctx := context.Background()

	assert.Nil(t, b.Liquidity)

	res, err := b.Execute(ctx, models.TradeDecision{Action: models.ActionSpotSwap, Params: models.SpotSwapParams{Amount: 1}})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.DryRun)
	assert.Nil(t, res.RealizedPnl)
	assert.Zero(t, spot.calls)

	res, err = b.Leveraged.ClosePosition(ctx, models.CloseLeveragedParams{PositionID: "BTCUSDT:long"})
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Zero(t, lev.closes)

	positions, err := b.Leveraged.OpenPositions(ctx)
	require.NoError(t, err)
	assert.Len(t, positions, 1)

	bal, err := b.Ledger.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3.0, bal)
	_, err = b.Ledger.Transfer(ctx, "0xdest", 1)
	require.NoError(t, err)
	assert.Zero(t, ledger.transfers)
	assert.Equal(t, "0xledger", b.Ledger.Address())
}
