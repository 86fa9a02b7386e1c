package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/songzhibin97/quantaguard/internal/models"
)

// RiskManager owns the process-wide risk context and gates every proposed action.
type RiskManager interface {
	// Assess evaluates decision against portfolio using a fresh snapshot of the rolling context
	Assess(portfolio models.PortfolioState, decision models.TradeDecision) Assessment

	// RecordTradeResult folds one completed trade into the rolling context
	RecordTradeResult(pnl, portfolioValue float64)

	// Snapshot returns a consistent copy of the rolling context
	Snapshot() Context

	// Config returns the active thresholds
	Config() Config

	// UpdateConfig swaps the thresholds after validating them
	UpdateConfig(cfg Config) error
}

// Rule is a stateless predicate. Check must not mutate any of its inputs.
type Rule interface {
	Name() string
	Check(portfolio models.PortfolioState, decision models.TradeDecision, cfg Config, rc Context) (CheckResult, error)
}

// TradeHistory is the persisted view used to seed the rolling context at startup.
type TradeHistory interface {
	ConsecutiveLosses(ctx context.Context, lookback int) (int, error)
	DailyPnl(ctx context.Context, since time.Time) (float64, error)
}

const (
	RulePositionSize      = "position_size"
	RuleStopLoss          = "stop_loss"
	RuleLeverageCap       = "leverage_cap"
	RuleDailyLossLimit    = "daily_loss_limit"
	RuleMinReserveBalance = "min_reserve_balance"
	RuleLossCooldown      = "loss_cooldown"
)

// Config 风控参数
type Config struct {
	MaxPositionSizePct  float64 `json:"max_position_size_pct" yaml:"max_position_size_pct"` // fraction of total portfolio value
	PerpStopLossPct     float64 `json:"perp_stop_loss_pct" yaml:"perp_stop_loss_pct"`
	MaxLeverage         float64 `json:"max_leverage" yaml:"max_leverage"`
	DailyLossLimitPct   float64 `json:"daily_loss_limit_pct" yaml:"daily_loss_limit_pct"`
	MinReserveBalance   float64 `json:"min_reserve_balance" yaml:"min_reserve_balance"` // base currency units
	CooldownAfterLosses int     `json:"cooldown_after_losses" yaml:"cooldown_after_losses"`
}

func DefaultConfig() Config {
	return Config{
		MaxPositionSizePct:  0.25,
		PerpStopLossPct:     0.05,
		MaxLeverage:         20,
		DailyLossLimitPct:   0.10,
		MinReserveBalance:   0.5,
		CooldownAfterLosses: 3,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.MaxPositionSizePct <= 0 || c.MaxPositionSizePct > 1 {
		errs = append(errs, fmt.Errorf("max_position_size_pct must be in (0,1], got %v", c.MaxPositionSizePct))
	}
	if c.PerpStopLossPct <= 0 || c.PerpStopLossPct >= 1 {
		errs = append(errs, fmt.Errorf("perp_stop_loss_pct must be in (0,1), got %v", c.PerpStopLossPct))
	}
	if c.MaxLeverage < 1 {
		errs = append(errs, fmt.Errorf("max_leverage must be at least 1, got %v", c.MaxLeverage))
	}
	if c.DailyLossLimitPct <= 0 || c.DailyLossLimitPct > 1 {
		errs = append(errs, fmt.Errorf("daily_loss_limit_pct must be in (0,1], got %v", c.DailyLossLimitPct))
	}
	if c.MinReserveBalance < 0 {
		errs = append(errs, fmt.Errorf("min_reserve_balance must not be negative, got %v", c.MinReserveBalance))
	}
	if c.CooldownAfterLosses < 1 {
		errs = append(errs, fmt.Errorf("cooldown_after_losses must be at least 1, got %d", c.CooldownAfterLosses))
	}
	return errors.Join(errs...)
}

// Context is the rolling window fed into every assessment.
type Context struct {
	DailyPnl          float64   `json:"daily_pnl"`
	DailyPnlPct       float64   `json:"daily_pnl_pct"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	Day               time.Time `json:"day"` // local midnight the counters belong to
}

// CheckResult 单条规则的结论
type CheckResult struct {
	Allowed      bool     `json:"allowed"`
	RuleName     string   `json:"rule_name"`
	Reason       string   `json:"reason,omitempty"`
	CurrentValue *float64 `json:"current_value,omitempty"`
	Threshold    *float64 `json:"threshold,omitempty"`
}

// Assessment 风控评估汇总
type Assessment struct {
	Allowed   bool          `json:"allowed"`
	Results   []CheckResult `json:"results"`
	BlockedBy []string      `json:"blocked_by"`
	Summary   string        `json:"summary"`
}

// Blocked returns the failing results in rule order.
func (a Assessment) Blocked() []CheckResult {
	var out []CheckResult
	for _, r := range a.Results {
		if !r.Allowed {
			out = append(out, r)
		}
	}
	return out
}
