package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidDecision marks decisions whose action, confidence, reasoning or params are not acceptable.
var ErrInvalidDecision = errors.New("invalid decision")

type TradeAction string

const (
	ActionSpotSwap        TradeAction = "SPOT_SWAP"
	ActionOpenLeveraged   TradeAction = "OPEN_LEVERAGED"
	ActionCloseLeveraged  TradeAction = "CLOSE_LEVERAGED"
	ActionAdjustLeveraged TradeAction = "ADJUST_LEVERAGED"
	ActionAddLiquidity    TradeAction = "ADD_LIQUIDITY"
	ActionHold            TradeAction = "HOLD"
)

// Actions lists every recognised action in declaration order.
var Actions = []TradeAction{
	ActionSpotSwap,
	ActionOpenLeveraged,
	ActionCloseLeveraged,
	ActionAdjustLeveraged,
	ActionAddLiquidity,
	ActionHold,
}

func (a TradeAction) Valid() bool {
	for _, v := range Actions {
		if a == v {
			return true
		}
	}
	return false
}

// DecisionParams is implemented by exactly one params type per non-HOLD action.
type DecisionParams interface {
	Action() TradeAction
	Validate() error
}

// SpotSwapParams 现货兑换参数
type SpotSwapParams struct {
	InputToken  string  `json:"inputToken"`
	OutputToken string  `json:"outputToken"`
	Amount      float64 `json:"amount"` // quote value of the input leg
	SlippageBps int     `json:"slippageBps,omitempty"`
}

func (SpotSwapParams) Action() TradeAction { return ActionSpotSwap }

func (p SpotSwapParams) Validate() error {
	if p.InputToken == "" || p.OutputToken == "" {
		return fmt.Errorf("%w: swap requires inputToken and outputToken", ErrInvalidDecision)
	}
	if strings.EqualFold(p.InputToken, p.OutputToken) {
		return fmt.Errorf("%w: swap input and output are the same token", ErrInvalidDecision)
	}
	if p.Amount <= 0 {
		return fmt.Errorf("%w: swap amount must be positive", ErrInvalidDecision)
	}
	return nil
}

// OpenLeveragedParams 开仓参数
type OpenLeveragedParams struct {
	Market           string       `json:"market"`
	Side             PositionSide `json:"side"`
	CollateralAmount float64      `json:"collateralAmount"`
	Leverage         float64      `json:"leverage"`
	StopLossPrice    *float64     `json:"stopLossPrice,omitempty"`
}

func (OpenLeveragedParams) Action() TradeAction { return ActionOpenLeveraged }

func (p OpenLeveragedParams) Validate() error {
	if p.Market == "" {
		return fmt.Errorf("%w: open requires market", ErrInvalidDecision)
	}
	if p.Side != SideLong && p.Side != SideShort {
		return fmt.Errorf("%w: invalid side %q", ErrInvalidDecision, p.Side)
	}
	if p.CollateralAmount <= 0 {
		return fmt.Errorf("%w: collateralAmount must be positive", ErrInvalidDecision)
	}
	if p.Leverage <= 0 {
		return fmt.Errorf("%w: leverage must be positive", ErrInvalidDecision)
	}
	if p.StopLossPrice == nil || *p.StopLossPrice <= 0 {
		return fmt.Errorf("%w: open requires a positive stopLossPrice", ErrInvalidDecision)
	}
	return nil
}

// CloseLeveragedParams 平仓参数
type CloseLeveragedParams struct {
	PositionID string `json:"positionId"`
	Market     string `json:"market"`
}

func (CloseLeveragedParams) Action() TradeAction { return ActionCloseLeveraged }

func (p CloseLeveragedParams) Validate() error {
	if p.PositionID == "" && p.Market == "" {
		return fmt.Errorf("%w: close requires positionId or market", ErrInvalidDecision)
	}
	return nil
}

// AdjustLeveragedParams 调仓参数，未设置的字段保持不变
type AdjustLeveragedParams struct {
	PositionID       string   `json:"positionId"`
	Market           string   `json:"market"`
	NewSize          *float64 `json:"newSize,omitempty"`
	NewLeverage      *float64 `json:"newLeverage,omitempty"`
	NewStopLossPrice *float64 `json:"newStopLossPrice,omitempty"`
}

func (AdjustLeveragedParams) Action() TradeAction { return ActionAdjustLeveraged }

func (p AdjustLeveragedParams) Validate() error {
	if p.PositionID == "" && p.Market == "" {
		return fmt.Errorf("%w: adjust requires positionId or market", ErrInvalidDecision)
	}
	if p.NewSize == nil && p.NewLeverage == nil && p.NewStopLossPrice == nil {
		return fmt.Errorf("%w: adjust changes nothing", ErrInvalidDecision)
	}
	for name, v := range map[string]*float64{
		"newSize":          p.NewSize,
		"newLeverage":      p.NewLeverage,
		"newStopLossPrice": p.NewStopLossPrice,
	} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidDecision, name)
		}
	}
	return nil
}

// AddLiquidityParams 添加流动性参数
type AddLiquidityParams struct {
	PoolAddress  string  `json:"poolAddress"`
	TokenAAmount float64 `json:"tokenAAmount"`
	TokenBAmount float64 `json:"tokenBAmount"`
	SlippageBps  int     `json:"slippageBps,omitempty"`
}

func (AddLiquidityParams) Action() TradeAction { return ActionAddLiquidity }

func (p AddLiquidityParams) Validate() error {
	if p.PoolAddress == "" {
		return fmt.Errorf("%w: add liquidity requires poolAddress", ErrInvalidDecision)
	}
	if p.TokenAAmount < 0 || p.TokenBAmount < 0 || p.TokenAAmount+p.TokenBAmount <= 0 {
		return fmt.Errorf("%w: add liquidity requires non-negative amounts with a positive total", ErrInvalidDecision)
	}
	return nil
}

// TradeDecision 一次提议的操作。HOLD 没有参数。
type TradeDecision struct {
	Action     TradeAction    `json:"action"`
	Confidence float64        `json:"confidence"`
	Reasoning  string         `json:"reasoning"`
	Params     DecisionParams `json:"params"`
}

// Hold builds a HOLD decision.
func Hold(reasoning string) TradeDecision {
	return TradeDecision{Action: ActionHold, Confidence: 1, Reasoning: reasoning}
}

// Validate checks the decision is structurally sound for its action.
func (d TradeDecision) Validate() error {
	if !d.Action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidDecision, d.Action)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidDecision, d.Confidence)
	}
	if strings.TrimSpace(d.Reasoning) == "" {
		return fmt.Errorf("%w: reasoning is empty", ErrInvalidDecision)
	}
	if d.Action == ActionHold {
		if d.Params != nil {
			return fmt.Errorf("%w: HOLD carries no params", ErrInvalidDecision)
		}
		return nil
	}
	if d.Params == nil {
		return fmt.Errorf("%w: %s requires params", ErrInvalidDecision, d.Action)
	}
	if d.Params.Action() != d.Action {
		return fmt.Errorf("%w: params for %s attached to %s", ErrInvalidDecision, d.Params.Action(), d.Action)
	}
	return d.Params.Validate()
}

// DecodeParams decodes raw JSON params into the variant for action.
// Unknown fields are rejected so typos do not silently drop a stop-loss.
func DecodeParams(action TradeAction, raw json.RawMessage) (DecisionParams, error) {
	trimmed := strings.TrimSpace(string(raw))
	if action == ActionHold {
		if trimmed == "" || trimmed == "null" || trimmed == "{}" {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: HOLD carries no params", ErrInvalidDecision)
	}
	if trimmed == "" || trimmed == "null" {
		return nil, fmt.Errorf("%w: %s requires params", ErrInvalidDecision, action)
	}

	var target DecisionParams
	switch action {
	case ActionSpotSwap:
		target = &SpotSwapParams{}
	case ActionOpenLeveraged:
		target = &OpenLeveragedParams{}
	case ActionCloseLeveraged:
		target = &CloseLeveragedParams{}
	case ActionAdjustLeveraged:
		target = &AdjustLeveragedParams{}
	case ActionAddLiquidity:
		target = &AddLiquidityParams{}
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidDecision, action)
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return nil, fmt.Errorf("%w: bad %s params: %v", ErrInvalidDecision, action, err)
	}

	switch p := target.(type) {
	case *SpotSwapParams:
		return *p, nil
	case *OpenLeveragedParams:
		return *p, nil
	case *CloseLeveragedParams:
		return *p, nil
	case *AdjustLeveragedParams:
		return *p, nil
	case *AddLiquidityParams:
		return *p, nil
	}
	return nil, fmt.Errorf("%w: unsupported params for %s", ErrInvalidDecision, action)
}
