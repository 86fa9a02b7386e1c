package models

import (
	"encoding/json"
	"time"
)

// DecisionRecord is the audit row written once per cycle.
type DecisionRecord struct {
	ID         int64           `json:"id"`
	CycleID    string          `json:"cycle_id"`
	Action     TradeAction     `json:"action"`
	Confidence float64         `json:"confidence"`
	Reasoning  string          `json:"reasoning"`
	Params     json.RawMessage `json:"params,omitempty"`
	Portfolio  json.RawMessage `json:"portfolio,omitempty"`
	Market     json.RawMessage `json:"market,omitempty"`
	Risk       json.RawMessage `json:"risk,omitempty"`
	Success    bool            `json:"success"`
	TxRef      string          `json:"tx_ref,omitempty"`
	Error      string          `json:"error,omitempty"`
	DryRun     bool            `json:"dry_run"`
	CreatedAt  time.Time       `json:"created_at"`
}

// RiskEvent 风控事件
type RiskEvent struct {
	ID           int64     `json:"id"`
	CycleID      string    `json:"cycle_id,omitempty"`
	RuleName     string    `json:"rule_name"`
	Triggered    bool      `json:"triggered"`
	Details      string    `json:"details"`
	CurrentValue *float64  `json:"current_value,omitempty"`
	Threshold    *float64  `json:"threshold,omitempty"`
	Action       string    `json:"action"`
	CreatedAt    time.Time `json:"created_at"`
}

// FeeClaim 手续费领取记录
type FeeClaim struct {
	ID              int64     `json:"id"`
	PositionID      string    `json:"position_id"`
	ClaimedAmount   float64   `json:"claimed_amount"`
	ForwardedAmount float64   `json:"forwarded_amount"`
	TxRef           string    `json:"tx_ref"`
	ForwardTxRef    string    `json:"forward_tx_ref,omitempty"`
	Success         bool      `json:"success"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// PortfolioSnapshot 定期快照
type PortfolioSnapshot struct {
	ID             int64           `json:"id"`
	TotalValueUSD  float64         `json:"total_value_usd"`
	WalletValueUSD float64         `json:"wallet_value_usd"`
	PerpValueUSD   float64         `json:"perp_value_usd"`
	LPValueUSD     float64         `json:"lp_value_usd"`
	BaseBalance    float64         `json:"base_balance"`
	DailyPnl       float64         `json:"daily_pnl"`
	DailyPnlPct    float64         `json:"daily_pnl_pct"`
	State          json.RawMessage `json:"state,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// DistributionRun 一次分配
type DistributionRun struct {
	ID             int64     `json:"id"`
	TotalAmount    float64   `json:"total_amount"`
	RecipientCount int       `json:"recipient_count"`
	SuccessCount   int       `json:"success_count"`
	DryRun         bool      `json:"dry_run"`
	CreatedAt      time.Time `json:"created_at"`
}

// DistributionRecipient 分配明细
type DistributionRecipient struct {
	Wallet  string  `json:"wallet"`
	Holding float64 `json:"holding"`
	Share   float64 `json:"share"`
	Amount  float64 `json:"amount"`
	TxRef   string  `json:"tx_ref,omitempty"`
	Success bool    `json:"success"`
	Error   string  `json:"error,omitempty"`
}
