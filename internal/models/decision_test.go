package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTradeDecision_Validate(t *testing.T) {
	stop := 90.0

	tests := []struct {
		name     string
		decision TradeDecision
		wantErr  bool
	}{
		{name: "hold", decision: Hold("nothing to do")},
		{
			name:     "unknown action",
			decision: TradeDecision{Action: "BUY_THE_DIP", Confidence: 0.5, Reasoning: "x"},
			wantErr:  true,
		},
		{
			name:     "confidence above one",
			decision: TradeDecision{Action: ActionHold, Confidence: 1.2, Reasoning: "x"},
			wantErr:  true,
		},
		{
			name:     "negative confidence",
			decision: TradeDecision{Action: ActionHold, Confidence: -0.1, Reasoning: "x"},
			wantErr:  true,
		},
		{
			name:     "blank reasoning",
			decision: TradeDecision{Action: ActionHold, Confidence: 0.5, Reasoning: "   "},
			wantErr:  true,
		},
		{
			name:     "swap without params",
			decision: TradeDecision{Action: ActionSpotSwap, Confidence: 0.5, Reasoning: "x"},
			wantErr:  true,
		},
		{
			name: "params for another action",
			decision: TradeDecision{
				Action: ActionSpotSwap, Confidence: 0.5, Reasoning: "x",
				Params: CloseLeveragedParams{PositionID: "BTCUSDT:long"},
			},
			wantErr: true,
		},
		{
			name: "open without stop loss",
			decision: TradeDecision{
				Action: ActionOpenLeveraged, Confidence: 0.5, Reasoning: "x",
				Params: OpenLeveragedParams{Market: "BTCUSDT", Side: SideLong, CollateralAmount: 10, Leverage: 3},
			},
			wantErr: true,
		},
		{
			name: "valid open",
			decision: TradeDecision{
				Action: ActionOpenLeveraged, Confidence: 0.5, Reasoning: "x",
				Params: OpenLeveragedParams{Market: "BTCUSDT", Side: SideShort, CollateralAmount: 10, Leverage: 3, StopLossPrice: &stop},
			},
		},
		{
			name: "adjust with nothing to change",
			decision: TradeDecision{
				Action: ActionAdjustLeveraged, Confidence: 0.5, Reasoning: "x",
				Params: AdjustLeveragedParams{PositionID: "BTCUSDT:long"},
			},
			wantErr: true,
		},
		{
			name: "liquidity with zero total",
			decision: TradeDecision{
				Action: ActionAddLiquidity, Confidence: 0.5, Reasoning: "x",
				Params: AddLiquidityParams{PoolAddress: "0xpool"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.decision.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidDecision))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestDecodeParams(t *testing.T) {
	p, err := DecodeParams(ActionOpenLeveraged, json.RawMessage(`{"market":"ETHUSDT","side":"long","collateralAmount":50,"leverage":4,"stopLossPrice":1800}`))
	require.NoError(t, err)
	open, ok := p.(OpenLeveragedParams)
	require.True(t, ok)
	require.NotNil(t, open.StopLossPrice)
	assert.Equal(t, 1800.0, *open.StopLossPrice)

	p, err = DecodeParams(ActionHold, json.RawMessage(`null`))
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = DecodeParams(ActionHold, json.RawMessage(`{"amount":1}`))
	assert.ErrorIs(t, err, ErrInvalidDecision)

	_, err = DecodeParams(ActionSpotSwap, json.RawMessage(`{"inputToken":"USDT","outputToken":"BTC","amout":5}`))
	assert.ErrorIs(t, err, ErrInvalidDecision)

	_, err = DecodeParams(ActionCloseLeveraged, nil)
	assert.ErrorIs(t, err, ErrInvalidDecision)
}

func TestPerpPosition_PnlPct(t *testing.T) {
	p := PerpPosition{Side: SideLong, Size: 2, EntryPrice: 100, UnrealizedPnl: -12}
	assert.InDelta(t, -0.06, p.PnlPct(), 1e-9)

	p.EntryPrice = 0
	assert.Zero(t, p.PnlPct())
}
