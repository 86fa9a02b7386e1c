package models

import "time"

// TradeResult 执行结果
type TradeResult struct {
	Success        bool     `json:"success"`
	TxRef          string   `json:"tx_ref,omitempty"`
	Error          string   `json:"error,omitempty"`
	ExecutedPrice  float64  `json:"executed_price,omitempty"`
	ExecutedAmount float64  `json:"executed_amount,omitempty"`
	RealizedPnl    *float64 `json:"realized_pnl,omitempty"`
	PositionID     string   `json:"position_id,omitempty"` // leveraged actions only
	DryRun         bool     `json:"dry_run,omitempty"`
}

// Failed builds an unsuccessful result from err.
func Failed(err error) *TradeResult {
	return &TradeResult{Success: false, Error: err.Error()}
}

type PositionStatus string

const (
	PositionOpen       PositionStatus = "open"
	PositionClosed     PositionStatus = "closed"
	PositionLiquidated PositionStatus = "liquidated"
)

type TradeSource string

const (
	SourceDecision TradeSource = "decision"
	SourceStopLoss TradeSource = "stop_loss"
)

// TradeRecord 成交记录
type TradeRecord struct {
	ID        int64       `json:"id"`
	CycleID   string      `json:"cycle_id"`
	Source    TradeSource `json:"source"`
	Action    TradeAction `json:"action"`
	Market    string      `json:"market"`
	Side      string      `json:"side"`
	Amount    float64     `json:"amount"`
	Price     float64     `json:"price"`
	Pnl       *float64    `json:"pnl,omitempty"`
	TxRef     string      `json:"tx_ref"`
	Success   bool        `json:"success"`
	Error     string      `json:"error,omitempty"`
	DryRun    bool        `json:"dry_run"`
	CreatedAt time.Time   `json:"created_at"`
}

// PerpPositionRecord is the persisted companion of a leveraged position.
type PerpPositionRecord struct {
	ID            int64          `json:"id"`
	PositionID    string         `json:"position_id"`
	Market        string         `json:"market"`
	Side          PositionSide   `json:"side"`
	Size          float64        `json:"size"`
	Leverage      float64        `json:"leverage"`
	EntryPrice    float64        `json:"entry_price"`
	StopLossPrice *float64       `json:"stop_loss_price,omitempty"`
	Status        PositionStatus `json:"status"`
	ExitPrice     *float64       `json:"exit_price,omitempty"`
	RealizedPnl   *float64       `json:"realized_pnl,omitempty"`
	OpenTxRef     string         `json:"open_tx_ref"`
	CloseTxRef    string         `json:"close_tx_ref,omitempty"`
	OpenedAt      time.Time      `json:"opened_at"`
	ClosedAt      *time.Time     `json:"closed_at,omitempty"`
}

// PositionClose carries what is written when a position record is closed.
type PositionClose struct {
	Status      PositionStatus
	ExitPrice   float64
	RealizedPnl float64
	TxRef       string
	ClosedAt    time.Time
}
