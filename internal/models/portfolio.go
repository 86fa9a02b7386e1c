package models

import "time"

// TokenBalance 钱包中的代币余额
type TokenBalance struct {
	Mint     string  `json:"mint"`
	Symbol   string  `json:"symbol"`
	Amount   float64 `json:"amount"`    // raw units
	UIAmount float64 `json:"ui_amount"` // human readable
	USDValue float64 `json:"usd_value"`
	Decimals int     `json:"decimals"`
}

type PositionSide string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

// PerpPosition 杠杆仓位的实时状态，以交易所为准
type PerpPosition struct {
	PositionID       string       `json:"position_id"`
	Market           string       `json:"market"`
	Side             PositionSide `json:"side"`
	Size             float64      `json:"size"` // base units, always positive
	Leverage         float64      `json:"leverage"`
	EntryPrice       float64      `json:"entry_price"`
	CurrentPrice     float64      `json:"current_price"`
	UnrealizedPnl    float64      `json:"unrealized_pnl"`
	UnrealizedPnlPct float64      `json:"unrealized_pnl_pct"`
	LiquidationPrice float64      `json:"liquidation_price"`
}

// Notional is the entry value of the position.
func (p PerpPosition) Notional() float64 {
	return p.Size * p.EntryPrice
}

// PnlPct returns unrealized P&L relative to entry notional, 0 when the notional is not positive.
func (p PerpPosition) PnlPct() float64 {
	n := p.Notional()
	if n <= 0 {
		return 0
	}
	return p.UnrealizedPnl / n
}

// LPPosition 流动性仓位
type LPPosition struct {
	PositionID      string  `json:"position_id"`
	PoolAddress     string  `json:"pool_address"`
	TokenAAmount    float64 `json:"token_a_amount"`
	TokenBAmount    float64 `json:"token_b_amount"`
	USDValue        float64 `json:"usd_value"`
	UnclaimedFeeUSD float64 `json:"unclaimed_fee_usd"`
}

// PortfolioState is a point-in-time snapshot. It is rebuilt every cycle and never mutated after construction.
type PortfolioState struct {
	Wallet         string         `json:"wallet"`
	BaseSymbol     string         `json:"base_symbol"`
	BaseBalance    float64        `json:"base_balance"`
	Tokens         []TokenBalance `json:"tokens"`
	PerpPositions  []PerpPosition `json:"perp_positions"`
	LPPositions    []LPPosition   `json:"lp_positions"`
	WalletValueUSD float64        `json:"wallet_value_usd"`
	PerpValueUSD   float64        `json:"perp_value_usd"`
	LPValueUSD     float64        `json:"lp_value_usd"`
	TotalValueUSD  float64        `json:"total_value_usd"`
	DailyPnl       float64        `json:"daily_pnl"`
	DailyPnlPct    float64        `json:"daily_pnl_pct"`
	Timestamp      time.Time      `json:"timestamp"`
}

// EmptyPortfolio is the zero-valued state handed downstream when the provider is unavailable.
func EmptyPortfolio(wallet, baseSymbol string, now time.Time) PortfolioState {
	return PortfolioState{
		Wallet:        wallet,
		BaseSymbol:    baseSymbol,
		Tokens:        []TokenBalance{},
		PerpPositions: []PerpPosition{},
		LPPositions:   []LPPosition{},
		Timestamp:     now,
	}
}
